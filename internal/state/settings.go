package state

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Setting keys read by the scheduler.
const (
	SettingPauseAll       = "pause_all"
	SettingMaxConcurrency = "max_concurrency"
	SettingParallelJobs   = "parallel_jobs"
	settingVersion        = "version"
)

// Snapshot is a consistent view of the global settings, read once per
// tick so a tick never observes two different limits.
type Snapshot struct {
	Version        int64             `json:"version"`
	PauseAll       bool              `json:"pause_all"`
	MaxConcurrency int               `json:"max_concurrency"`
	ParallelJobs   int               `json:"parallel_jobs"`
	Values         map[string]string `json:"values"`
}

// Snapshot reads all settings in a single statement.
func (db *DB) Snapshot() (Snapshot, error) {
	snap := Snapshot{MaxConcurrency: 1, ParallelJobs: 1, Values: map[string]string{}}

	rows, err := db.conn.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return snap, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return snap, fmt.Errorf("scan setting: %w", err)
		}
		snap.Values[k] = v
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	if v, ok := snap.Values[settingVersion]; ok {
		snap.Version, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := snap.Values[SettingPauseAll]; ok {
		snap.PauseAll, _ = strconv.ParseBool(v)
	}
	if n, err := strconv.Atoi(snap.Values[SettingMaxConcurrency]); err == nil && n > 0 {
		snap.MaxConcurrency = n
	}
	if n, err := strconv.Atoi(snap.Values[SettingParallelJobs]); err == nil && n > 0 {
		snap.ParallelJobs = n
	}
	return snap, nil
}

// SetSetting writes one setting and bumps the settings version.
func (db *DB) SetSetting(key, value string) error {
	if key == settingVersion {
		return fmt.Errorf("setting %q is managed by the store", key)
	}
	ts := formatTime(now())
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, ts,
		)
		if err != nil {
			return fmt.Errorf("set setting %s: %w", key, err)
		}
		_, err = tx.Exec(`
			UPDATE settings SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT), updated_at = ?
			WHERE key = ?`, ts, settingVersion)
		if err != nil {
			return fmt.Errorf("bump settings version: %w", err)
		}
		return nil
	})
}

// SetPaused toggles the global pause flag.
func (db *DB) SetPaused(paused bool) error {
	return db.SetSetting(SettingPauseAll, strconv.FormatBool(paused))
}
