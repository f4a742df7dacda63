// internal/service/promotion/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateCode     = errors.New("promo code already exists")
	ErrDuplicateToken    = errors.New("token already exists")
	ErrPromoCodeNotFound = errors.New("promo code not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrTokenAlreadyUsed  = errors.New("token has already been used")

	// ErrStoreUnavailable 表示持久存储读写失败，调用方可以退回到临时覆盖层。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreReadOnly 表示部署环境下持久存储不可写，它同时匹配 ErrStoreUnavailable。
	ErrStoreReadOnly = &readOnlyError{}
)

type readOnlyError struct{}

func (*readOnlyError) Error() string { return "store is read-only" }

func (*readOnlyError) Is(target error) bool { return target == ErrStoreUnavailable }

// StoreError 包装底层驱动错误，并统一匹配 ErrStoreUnavailable。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// IsNotFound 同时覆盖优惠码和令牌两种不存在的情况。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPromoCodeNotFound) || errors.Is(err, ErrTokenNotFound)
}
