package client

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one decoded server-sent event
type Frame struct {
	Event string
	Data  string
	ID    string
}

// FrameDecoder incrementally decodes a text/event-stream body. Comment
// lines (keep-alives) are skipped; a frame is emitted at each blank
// line.
type FrameDecoder struct {
	scanner *bufio.Scanner
}

// NewFrameDecoder creates a decoder over a stream body
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	return &FrameDecoder{scanner: scanner}
}

// Next blocks until a complete frame arrives or the stream ends. The
// stream end surfaces as io.EOF, read failures as-is.
func (d *FrameDecoder) Next() (Frame, error) {
	var frame Frame
	var dataLines []string
	sawField := false

	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if sawField {
				frame.Data = strings.Join(dataLines, "\n")
				return frame, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			// Comment, typically a keep-alive.
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			frame.Event = value
			sawField = true
		case "data":
			dataLines = append(dataLines, value)
			sawField = true
		case "id":
			frame.ID = value
			sawField = true
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if sawField {
		frame.Data = strings.Join(dataLines, "\n")
		return frame, nil
	}
	return Frame{}, io.EOF
}
