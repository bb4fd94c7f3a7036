package provision

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// streamScanner reads server-sent events from a response body. Only
// the data field matters to the build protocol; comments, event names,
// ids, and retry hints are skipped.
type streamScanner struct {
	scanner *bufio.Scanner
}

func newStreamScanner(r io.Reader) *streamScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &streamScanner{scanner: scanner}
}

// nextData returns the data payload of the next event carrying one.
// Multi-line data fields are joined with newlines per the EventSource
// spec. io.EOF (or the underlying read error) is returned when the
// stream ends.
func (s *streamScanner) nextData() ([]byte, error) {
	var data [][]byte
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		if len(line) == 0 {
			// Blank line ends the event.
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		if field != "data" {
			continue
		}
		// Copy: the scanner reuses its buffer.
		data = append(data, append([]byte(nil), value...))
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), nil
	}
	return nil, io.EOF
}

func splitField(line []byte) (string, []byte) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), nil
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), value
}
