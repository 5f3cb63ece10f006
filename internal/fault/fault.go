// Package fault flattens wrapped error chains into a list of causes so
// that a failure boundary can log the whole chain as a single record.
package fault

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// Cause is one layer of an error chain.
type Cause struct {
	// Message is the layer's own message with the wrapped error's text
	// removed.
	Message string

	// Origin locates the layer: the file:line recorded by Wrap, or the
	// concrete error type.
	Origin string
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c Cause) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message", c.Message).Str("origin", c.Origin)
}

// Chain is a flattened error chain, outermost layer first.
type Chain []Cause

// MarshalZerologArray implements zerolog.LogArrayMarshaler.
func (c Chain) MarshalZerologArray(a *zerolog.Array) {
	for _, cause := range c {
		a.Object(cause)
	}
}

func (c Chain) String() string {
	parts := make([]string, 0, len(c))
	for _, cause := range c {
		parts = append(parts, fmt.Sprintf("%s (%s)", cause.Message, cause.Origin))
	}
	return strings.Join(parts, " <- ")
}

// Error is an error annotated with the location it was wrapped at.
type Error struct {
	msg   string
	err   error
	frame string
}

// Wrap annotates err with a message and the caller's location. It
// returns nil when err is nil.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		msg:   fmt.Sprintf(format, args...),
		err:   err,
		frame: caller(2),
	}
}

func (e *Error) Error() string { return e.msg + ": " + e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "?"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = filepath.Base(fn.Name())
	}
	return fmt.Sprintf("%s:%d %s", filepath.Base(file), line, name)
}

// Flatten walks err's wrap chain, following every branch of joined
// errors depth-first, and returns one Cause per layer.
func Flatten(err error) Chain {
	var chain Chain
	flatten(err, &chain)
	return chain
}

func flatten(err error, chain *Chain) {
	if err == nil {
		return
	}

	switch e := err.(type) {
	case *Error:
		*chain = append(*chain, Cause{Message: e.msg, Origin: e.frame})
		flatten(e.err, chain)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			flatten(inner, chain)
		}
	case interface{ Unwrap() error }:
		inner := e.Unwrap()
		*chain = append(*chain, Cause{
			Message: ownMessage(err, inner),
			Origin:  fmt.Sprintf("%T", err),
		})
		flatten(inner, chain)
	default:
		*chain = append(*chain, Cause{Message: err.Error(), Origin: fmt.Sprintf("%T", err)})
	}
}

// ownMessage strips the wrapped error's text from err's message, which
// is how fmt.Errorf("...: %w") composes them.
func ownMessage(err, inner error) string {
	msg := err.Error()
	if inner == nil {
		return msg
	}
	if trimmed, ok := strings.CutSuffix(msg, ": "+inner.Error()); ok {
		return trimmed
	}
	return msg
}

// Log writes err to logger at error level as a single record carrying
// the flattened chain.
func Log(logger zerolog.Logger, err error, msg string) {
	if err == nil {
		return
	}
	logger.Error().
		Str("error", err.Error()).
		Array("causes", Flatten(err)).
		Msg(msg)
}
