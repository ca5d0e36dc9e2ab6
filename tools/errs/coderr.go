package errs

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 错误码
const (
	ArgsError           = 1001
	Unauthorized        = 1002
	NotFound            = 1004
	ServerInternalError = 1500
	StoreError          = 1501
)

var (
	ErrArgs         = NewCodeError(ArgsError, "invalid arguments")
	ErrUnauthorized = NewCodeError(Unauthorized, "unauthorized")
	ErrNotFound     = NewCodeError(NotFound, "not found")
	ErrInternal     = NewCodeError(ServerInternalError, "internal error")
	ErrStore        = NewCodeError(StoreError, "store unavailable")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{Code: code, Msg: msg}
}

// CodeError is the JSON error body of the HTTP API.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	if e.Detail != "" {
		detail = e.Detail + ", " + detail
	}
	return CodeError{Code: e.Code, Msg: e.Msg, Detail: detail}
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Is matches any CodeError with the same code, whatever the detail.
func (e CodeError) Is(target error) bool {
	t, ok := target.(CodeError)
	return ok && t.Code == e.Code
}

// HTTPStatus maps an error code to the response status.
func (e CodeError) HTTPStatus() int {
	switch e.Code {
	case ArgsError:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case StoreError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From returns the CodeError carried by err, or ErrInternal with err as the
// detail.
func From(err error) CodeError {
	var ce CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrInternal.WithDetail(err.Error())
}
