package curation

import "time"

// Clock abstracts the time source so published_at semantics are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock returns UTC wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
