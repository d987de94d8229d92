package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return nil
}

// MarshalJSON encodes the row with its age in whole seconds.
func (r Row) MarshalJSON() ([]byte, error) {
	type row Row

	return json.Marshal(struct {
		row
		AgeSeconds int64 `json:"age_seconds"`
	}{row(r), int64(r.Age / time.Second)})
}
