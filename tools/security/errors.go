package security

import "github.com/pkg/errors"

// Reason classifies why a credential was refused.
type Reason int

const (
	ReasonMalformed Reason = iota + 1
	ReasonExpired
	ReasonNotYetValid
	ReasonInvalid
	ReasonMissingSubject
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonExpired:
		return "expired"
	case ReasonNotYetValid:
		return "not yet valid"
	case ReasonInvalid:
		return "invalid"
	case ReasonMissingSubject:
		return "missing subject"
	default:
		return "unknown"
	}
}

// TokenError is returned by Verifier.Verify. Two TokenErrors match under
// errors.Is when their Reason is equal, so the Err* values work as sentinels.
type TokenError struct {
	Reason Reason
	Err    error
}

var (
	ErrMalformed      = &TokenError{Reason: ReasonMalformed}
	ErrExpired        = &TokenError{Reason: ReasonExpired}
	ErrNotYetValid    = &TokenError{Reason: ReasonNotYetValid}
	ErrInvalid        = &TokenError{Reason: ReasonInvalid}
	ErrMissingSubject = &TokenError{Reason: ReasonMissingSubject}
)

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + e.Reason.String()
	}
	return "token " + e.Reason.String() + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Reason == e.Reason
}

// ReasonOf returns the Reason carried by err, or 0 when err is not a TokenError.
func ReasonOf(err error) Reason {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason
	}
	return 0
}
