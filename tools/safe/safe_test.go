package safe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallPassesThroughError(t *testing.T) {
	want := errors.New("boom")
	assert.Equal(t, want, Call(func() error { return want }))
	assert.NoError(t, Call(func() error { return nil }))
}

func TestCallRecoversPanic(t *testing.T) {
	err := Call(func() error { panic("kaput") })
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "kaput")
}

func TestGoRecoversPanic(t *testing.T) {
	got := make(chan any, 1)
	Go(func() { panic(42) }, func(r any) { got <- r })
	assert.Equal(t, 42, <-got)
}
