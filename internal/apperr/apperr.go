// Package apperr 定义了对外可见的错误分类。
// 每个对外暴露的错误都带有稳定的机器可读类别(Kind)与一段可读的详情(Detail)。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误类别的封闭枚举。
type Kind string

const (
	KindValidation              Kind = "validation_error"
	KindUpstreamUnavailable     Kind = "upstream_unavailable"
	KindClassificationAmbiguous Kind = "classification_ambiguous"
	KindNotFound                Kind = "not_found"
	KindDecode                  Kind = "decode_error"
	KindConfig                  Kind = "config_error"
	KindInternal                Kind = "internal_error"
)

// Error 是带类别的应用错误。
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, &Error{Kind: k}) 按类别匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Detail == "" || t.Detail == e.Detail)
}

func newErr(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, nil, format, args...)
}

func Unavailable(err error, format string, args ...interface{}) *Error {
	return newErr(KindUpstreamUnavailable, err, format, args...)
}

func Ambiguous(format string, args ...interface{}) *Error {
	return newErr(KindClassificationAmbiguous, nil, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, nil, format, args...)
}

func Decode(err error, format string, args ...interface{}) *Error {
	return newErr(KindDecode, err, format, args...)
}

func Config(format string, args ...interface{}) *Error {
	return newErr(KindConfig, nil, format, args...)
}

func Internal(err error, format string, args ...interface{}) *Error {
	return newErr(KindInternal, err, format, args...)
}

// KindOf 返回错误链中第一个 *Error 的类别，没有则视为 internal_error。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf 返回错误的可读详情。
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}

// HTTPStatus 将错误类别映射为 HTTP 状态码。
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable, KindConfig:
		return http.StatusServiceUnavailable
	case KindDecode:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
