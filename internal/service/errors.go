package service

import (
	"errors"
	"strings"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrEmailUnverified     = errors.New("email belongs to another account and google has not verified it")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserNotFound        = errors.New("user not found")
	ErrProfileNotFound     = errors.New("donor profile not found")
	ErrMissingSearchParams = errors.New("missing search parameters")
	ErrSearchUnavailable   = errors.New("donor search unavailable")
)

// ValidationError 汇总表单校验失败的所有原因。
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

func (e *ValidationError) add(problem string) {
	e.Problems = append(e.Problems, problem)
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
