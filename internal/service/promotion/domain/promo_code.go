// internal/service/promotion/domain/promo_code.go
package domain

import "strings"

// PromoCode 是管理员维护的一条优惠码。
// Code 在整个注册表（持久存储 + 临时覆盖层）中唯一，区分大小写。
type PromoCode struct {
	ID          int64
	Code        string
	Description string
}

// IsEphemeral 报告该记录是否来自临时覆盖层。
// 覆盖层只分配负数 ID，持久存储的 ID 永远为正，两个命名空间不会相交。
func (p *PromoCode) IsEphemeral() bool {
	return p.ID < 0
}

// Clone 返回一份独立副本，避免调用方修改存储内部的状态。
func (p *PromoCode) Clone() *PromoCode {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// PromoCodeSeed 是批量初始化/重置目录时使用的输入。
type PromoCodeSeed struct {
	Code        string
	Description string
}

// ValidatePromoCodeInput 校验创建优惠码所需的字段。
func ValidatePromoCodeInput(code, description string) error {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(description) == "" {
		return ErrInvalidInput
	}
	return nil
}
