package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event: the event name (may be empty) and
// the concatenated data lines.
type sseEvent struct {
	Event string
	Data  string
}

// sseReader parses a text/event-stream body incrementally.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: sc}
}

// Next returns the next event, or io.EOF when the stream ends.
func (r *sseReader) Next() (sseEvent, error) {
	var ev sseEvent
	var data []string

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if len(data) > 0 || ev.Event != "" {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):]))
		case strings.HasPrefix(line, ":"):
			// Comment line, keep-alive.
		}
	}
	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if len(data) > 0 || ev.Event != "" {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return sseEvent{}, io.EOF
}
