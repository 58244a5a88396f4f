// Package stream writes chat responses as newline-delimited JSON frames.
// A response is any number of text, action and error frames followed by
// exactly one done frame.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/missioncontrol/internal/actions"
)

// ContentType is the media type of a frame stream.
const ContentType = "application/x-ndjson"

// Frame types.
const (
	FrameText   = "text"
	FrameAction = "action"
	FrameError  = "error"
	FrameDone   = "done"
)

// ErrClosed is returned when writing after Done.
var ErrClosed = errors.New("stream already finished")

// Frame is one line of the stream.
type Frame struct {
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	Action     *actions.Result `json:"action,omitempty"`
	Error      string          `json:"error,omitempty"`
	MessageID  string          `json:"message_id,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	Tier       string          `json:"tier,omitempty"`
}

// Writer emits frames, flushing after each one when the underlying
// writer supports it.
type Writer struct {
	mu        sync.Mutex
	enc       *json.Encoder
	flusher   http.Flusher
	messageID string
	started   time.Time
	done      bool
}

// NewWriter creates a Writer with a fresh message id.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{
		enc:       json.NewEncoder(w),
		messageID: uuid.New().String(),
		started:   time.Now(),
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// MessageID returns the id carried by the done frame.
func (w *Writer) MessageID() string { return w.messageID }

// Text writes a content frame. Empty content is skipped.
func (w *Writer) Text(content string) error {
	if content == "" {
		return nil
	}
	return w.write(Frame{Type: FrameText, Content: content})
}

// Action writes one executed action result.
func (w *Writer) Action(r actions.Result) error {
	return w.write(Frame{Type: FrameAction, Action: &r})
}

// Error writes an error frame. The stream stays open.
func (w *Writer) Error(err error) error {
	return w.write(Frame{Type: FrameError, Error: err.Error()})
}

// Done writes the terminal frame. Later writes fail with ErrClosed.
func (w *Writer) Done(tier string) error {
	err := w.write(Frame{
		Type:       FrameDone,
		MessageID:  w.messageID,
		DurationMS: time.Since(w.started).Milliseconds(),
		Tier:       tier,
	})
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
	return err
}

func (w *Writer) write(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrClosed
	}
	if err := w.enc.Encode(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Read decodes frames from r until the done frame, calling fn for each
// one including done. It returns io.ErrUnexpectedEOF if the stream ends
// without a done frame.
func Read(r io.Reader, fn func(Frame) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
		if f.Type == FrameDone {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
