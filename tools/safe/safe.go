package safe

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPanic wraps a value recovered by Call.
var ErrPanic = errors.New("panic recovered")

// Call runs f and converts a panic into an error wrapping ErrPanic, so one
// misbehaving callee cannot take down a loop over many.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(ErrPanic, fmt.Sprint(r))
		}
	}()
	return f()
}

// Go starts f in a goroutine that recovers from panic and reports it to
// onPanic (which may be nil).
func Go(f func(), onPanic func(r any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(r)
			}
		}()
		f()
	}()
}
