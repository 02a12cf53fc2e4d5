// Package fault carries configuration contract violations: conditions that
// well-formed signal descriptors never produce, such as a copy range that
// exceeds a frame. They are reported once through a single hook and the
// faulting operation commits nothing; they are never retried.
package fault

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Class tells how a violation was detected.
type Class int

const (
	// ClassRange is a copy range outside the frame or destination.
	ClassRange Class = iota
	// ClassIndex is a handle outside the configuration arena.
	ClassIndex
	// ClassLayout is a value whose layout disagrees with its descriptor.
	ClassLayout
)

func (c Class) String() string {
	switch c {
	case ClassRange:
		return "range"
	case ClassIndex:
		return "index"
	case ClassLayout:
		return "layout"
	default:
		return "unknown"
	}
}

// Violation wraps the underlying error with where it happened.
type Violation struct {
	Class     Class
	Component string
	Operation string
	Err       error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s.%s: %s violation: %v", v.Component, v.Operation, v.Class, v.Err)
}

func (v *Violation) Unwrap() error {
	return v.Err
}

// New builds a Violation.
func New(class Class, component, operation string, err error) *Violation {
	return &Violation{Class: class, Component: component, Operation: operation, Err: err}
}

// Is reports whether err is or wraps a Violation.
func Is(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// Reporter receives contract violations.
type Reporter func(err error)

var hook atomic.Pointer[Reporter]

// SetReporter installs the process-wide reporter; nil restores the default,
// which logs each violation at error level.
func SetReporter(r Reporter) {
	if r == nil {
		hook.Store(nil)
		return
	}
	hook.Store(&r)
}

// Report forwards err to the installed reporter. A nil err is ignored.
func Report(err error) {
	if err == nil {
		return
	}
	if r := hook.Load(); r != nil {
		(*r)(err)
		return
	}
	logDefault(err)
}

func logDefault(err error) {
	ev := log.Error().Err(err)
	var v *Violation
	if errors.As(err, &v) {
		ev = ev.Str("component", v.Component).Str("operation", v.Operation).Str("class", v.Class.String())
	}
	ev.Msg("contract violation")
}
