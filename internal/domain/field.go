package domain

import "time"

// FieldState describes how much the client knows about one view field.
type FieldState string

const (
	FieldLoading     FieldState = "loading"
	FieldReady       FieldState = "ready"
	FieldUnavailable FieldState = "unavailable"
	FieldUnknown     FieldState = "unknown"
)

// Field wraps one independently loaded value of the dashboard view.
//
// A ready field whose latest refresh failed keeps its last-known Value and is
// flagged Stale with the refresh error in Err.
type Field[T any] struct {
	State     FieldState `json:"state"`
	Value     T          `json:"value"`
	Stale     bool       `json:"stale,omitempty"`
	Err       string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// Ready returns a populated field.
func Ready[T any](v T, at time.Time) Field[T] {
	return Field[T]{State: FieldReady, Value: v, UpdatedAt: at}
}

// Loading returns a field awaiting its first value.
func Loading[T any]() Field[T] {
	return Field[T]{State: FieldLoading}
}

// UnknownField returns a field with no information at all.
func UnknownField[T any]() Field[T] {
	return Field[T]{State: FieldUnknown}
}

// Get returns the value and whether one is available.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.State == FieldReady
}

// Fail records a read failure. Fields that already hold a value keep it and
// become stale when retain is true; otherwise the field turns unavailable.
func (f Field[T]) Fail(err error, retain bool) Field[T] {
	msg := "unavailable"
	if err != nil {
		msg = err.Error()
	}
	if retain && f.State == FieldReady {
		f.Stale = true
		f.Err = msg
		return f
	}
	var zero T
	return Field[T]{State: FieldUnavailable, Value: zero, Err: msg}
}
