package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ethpandaops/trendoor/pkg/store"
)

// ErrInvalidEvent is returned for phase events that cannot be recorded.
var ErrInvalidEvent = errors.New("invalid phase event")

const (
	// xfailMarker is the marker and keyword name for expected failures.
	xfailMarker = "xfail"

	// DriverRemote marks a session that ran on a remote browser driver.
	DriverRemote = "remote"
)

// PhaseEvent is the result of a single setup, call or teardown phase of a
// test, as reported by the test runner.
type PhaseEvent struct {
	Test    string        `json:"test"`
	Phase   store.Phase   `json:"phase"`
	Outcome store.Outcome `json:"outcome"`
	// LongRepr is the failure detail. For skips it ends with the skip
	// message.
	LongRepr         FailureDetail  `json:"longrepr,omitempty"`
	Keywords         []string       `json:"keywords,omitempty"`
	Markers          MarkerList     `json:"markers,omitempty"`
	ContainerMarkers MarkerList     `json:"container_markers,omitempty"`
	Capabilities     map[string]any `json:"capabilities,omitempty"`
	Session          *Session       `json:"session,omitempty"`
}

// Validate checks that the event names a test, a known phase and a raw
// outcome.
func (e *PhaseEvent) Validate() error {
	if e.Test == "" {
		return fmt.Errorf("%w: test is required", ErrInvalidEvent)
	}

	if !e.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidEvent, e.Phase)
	}

	if !e.Outcome.Raw() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidEvent, e.Outcome)
	}

	return nil
}

// MarkerSources returns the marker providers in priority order: the test's
// own markers first, then the markers of its container.
func (e *PhaseEvent) MarkerSources() []MarkerProvider {
	return []MarkerProvider{e.Markers, e.ContainerMarkers}
}

// ExpectedToFail reports whether the test is marked as an expected failure,
// either through its keywords or any marker source.
func (e *PhaseEvent) ExpectedToFail() bool {
	if slices.Contains(e.Keywords, xfailMarker) {
		return true
	}

	for _, src := range e.MarkerSources() {
		for _, m := range src.Markers() {
			if m.Name == xfailMarker {
				return true
			}
		}
	}

	return false
}

// CapabilitiesJSON serialises the capabilities, or returns "" when there
// are none.
func (e *PhaseEvent) CapabilitiesJSON() (string, error) {
	if len(e.Capabilities) == 0 {
		return "", nil
	}

	data, err := json.Marshal(e.Capabilities)
	if err != nil {
		return "", fmt.Errorf("encoding capabilities: %w", err)
	}

	return string(data), nil
}

// Marker is a named test marker with its arguments.
type Marker struct {
	Name   string         `json:"name"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// MarkerProvider is a source of markers attached to a test or one of its
// containers.
type MarkerProvider interface {
	Markers() []Marker
}

// MarkerList is a static MarkerProvider.
type MarkerList []Marker

// Markers implements MarkerProvider.
func (l MarkerList) Markers() []Marker {
	return l
}

// resolveXFailReason scans the sources in order for xfail markers carrying
// a reason. The last match wins.
func resolveXFailReason(sources []MarkerProvider) (string, bool) {
	var (
		reason string
		found  bool
	)

	for _, src := range sources {
		for _, m := range src.Markers() {
			if m.Name != xfailMarker {
				continue
			}

			v, ok := m.Kwargs["reason"]
			if !ok || v == nil {
				continue
			}

			if s, ok := v.(string); ok {
				reason = s
			} else {
				reason = fmt.Sprint(v)
			}

			found = true
		}
	}

	return reason, found
}

// Session identifies the browser automation session a test ran under.
type Session struct {
	Driver string `json:"driver"`
	ID     string `json:"id"`
}

// Remote reports whether the session ran on a remote driver that records
// video.
func (s *Session) Remote() bool {
	return s != nil && s.Driver == DriverRemote && s.ID != ""
}

// FailureDetail holds the failure representation of a phase. It decodes
// from either a list, such as (path, line, message) for skips, or a
// plain string.
type FailureDetail []string

// UnmarshalJSON implements json.Unmarshaler.
func (d *FailureDetail) UnmarshalJSON(data []byte) error {
	var items []any
	if err := json.Unmarshal(data, &items); err == nil {
		detail := make(FailureDetail, 0, len(items))

		for _, item := range items {
			if s, ok := item.(string); ok {
				detail = append(detail, s)
			} else {
				detail = append(detail, fmt.Sprint(item))
			}
		}

		*d = detail

		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("longrepr must be a string or a list: %w", err)
	}

	*d = FailureDetail{text}

	return nil
}

// Last returns the final element, which is the message for skips.
func (d FailureDetail) Last() (string, bool) {
	if len(d) == 0 {
		return "", false
	}

	return d[len(d)-1], true
}
