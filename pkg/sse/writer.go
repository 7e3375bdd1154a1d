package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// DoneSentinel is the literal data payload of the terminal frame that every
// relay stream ends with.
const DoneSentinel = "[DONE]"

// Writer serializes the relay's normalized outbound frames. Every frame is a
// single "data:" line followed by a blank line.
type Writer struct {
	dest io.Writer
}

// NewWriter returns a Writer emitting frames to dest. When dest is an
// io.PipeWriter bridged into the HTTP response, each write blocks until the
// client side has consumed the frame, giving per-frame backpressure.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// contentFrame is the JSON body of a content frame.
type contentFrame struct {
	Content string `json:"content"`
}

// errorFrame is the JSON body of an inline error frame.
type errorFrame struct {
	Error string `json:"error"`
}

// WriteContent emits one `data: {"content": ...}` frame.
func (w *Writer) WriteContent(fragment string) error {
	return w.writeJSON(contentFrame{Content: fragment})
}

// WriteError emits one `data: {"error": ...}` frame. Used to surface an
// upstream transport failure inline without tearing down the stream.
func (w *Writer) WriteError(msg string) error {
	return w.writeJSON(errorFrame{Error: msg})
}

// WriteDone emits the terminal sentinel frame.
func (w *Writer) WriteDone() error {
	_, err := fmt.Fprintf(w.dest, "data: %s\n\n", DoneSentinel)
	return err
}

func (w *Writer) writeJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	_, err = fmt.Fprintf(w.dest, "data: %s\n\n", body)
	return err
}
