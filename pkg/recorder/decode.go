package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxEventSize bounds a single NDJSON line.
const maxEventSize = 4 * 1024 * 1024

// DecodeEvents reads newline-delimited JSON phase events from r and calls
// fn for each one. Blank lines are skipped. Decoding stops at the first
// malformed line or error returned by fn.
func DecodeEvents(r io.Reader, fn func(event *PhaseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	line := 0

	for scanner.Scan() {
		line++

		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var event PhaseEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: line %d: %w", ErrInvalidEvent, line, err)
		}

		if err := fn(&event); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	return nil
}
