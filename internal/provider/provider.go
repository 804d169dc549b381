// Package provider fetches course section offerings from the enlistment
// endpoint and classifies failures so callers can pick a policy per kind.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Meeting is one scheduled meeting of a section.
type Meeting struct {
	Day  string `json:"day" bson:"day"`
	Time string `json:"time" bson:"time"`
	Room string `json:"room,omitempty" bson:"room,omitempty"`
}

// Section is one offering row as served by the endpoint.
type Section struct {
	ClassNbr   int       `json:"classNbr" bson:"classNbr"`
	Course     string    `json:"course" bson:"course"`
	Section    string    `json:"section" bson:"section"`
	EnrlCap    int       `json:"enrlCap" bson:"enrlCap"`
	Enrolled   int       `json:"enrolled" bson:"enrolled"`
	Remarks    string    `json:"remarks,omitempty" bson:"remarks,omitempty"`
	Instructor string    `json:"instructor,omitempty" bson:"instructor,omitempty"`
	Meetings   []Meeting `json:"meetings,omitempty" bson:"meetings,omitempty"`
}

// Open reports whether the section still has seats.
func (s Section) Open() bool { return s.EnrlCap > 0 && s.Enrolled < s.EnrlCap }

// Kind classifies a fetch failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBlocked means the upstream anti-bot layer refused us (HTTP 503).
	KindBlocked
	// KindTransient covers network errors, timeouts and 5xx responses.
	KindTransient
	// KindMalformed means the body decoded but violated the offering shape.
	KindMalformed
	// KindNotFound means the endpoint knows no such course.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error wraps a fetch failure with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("provider: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Client fetches the current offerings of one course on behalf of a
// subscriber credential.
type Client interface {
	Fetch(ctx context.Context, course, credential string) ([]Section, error)
}
