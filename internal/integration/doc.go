// Package integration holds end-to-end tests that drive real engine
// subprocesses through the scheduler, the HTTP API and the store.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
