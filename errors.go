// errors.go
package calendarassistant

import "errors"

// ErrMalformedTimestamp is returned when a datetime string cannot be
// parsed. Callers treat it as soft: the dependent check is skipped
// rather than the whole validation aborted.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// ErrUnsupportedAction is returned for action kinds outside the known set.
var ErrUnsupportedAction = errors.New("unsupported action")

// ErrInvalidInput is returned when a payload fails schema validation.
var ErrInvalidInput = errors.New("invalid input")

// ErrDuplicateDetected blocks a mutation that would create an event with
// the same title overlapping an existing one.
var ErrDuplicateDetected = errors.New("duplicate event detected")

// ErrNoEventsMatched is returned when a batch filter selects nothing.
var ErrNoEventsMatched = errors.New("no events matched")

// ErrInvalidOffsetFormat rejects a whole batch whose time offset string
// cannot be parsed; no event is touched.
var ErrInvalidOffsetFormat = errors.New("invalid offset format")

// ErrNotFound is returned for operations referencing a missing event.
var ErrNotFound = errors.New("not found")
