package application

import (
	"encoding/json"
	"time"

	"promotoken/internal/service/promotion/domain"
)

// PromoCodeDTO 是优惠码对外的 JSON 形态
type PromoCodeDTO struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// TokenDTO 是令牌列表中的一行，带上所属优惠码的 code
type TokenDTO struct {
	ID          int64           `json:"id"`
	Token       string          `json:"token"`
	PromoCodeID int64           `json:"promoCodeId"`
	Code        string          `json:"code"`
	Used        bool            `json:"used"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UsedAt      *time.Time      `json:"usedAt"`
	Result      json.RawMessage `json:"result"`
}

// IssuedToken 是签发令牌的结果
type IssuedToken struct {
	Token     *domain.Token
	PromoCode *domain.PromoCode
}

// ValidationResult 是只读校验的结果。IsValid 为 false 时 PromoCode 为 nil。
type ValidationResult struct {
	IsValid   bool
	PromoCode *domain.PromoCode
}

// RedeemOutcome 是兑换的结果。Consumed 为 false 表示结果载荷未被判定为成功，令牌保持可用。
type RedeemOutcome struct {
	Consumed  bool
	Token     *domain.Token
	PromoCode *domain.PromoCode
}

func ToPromoCodeDTO(pc *domain.PromoCode) *PromoCodeDTO {
	if pc == nil {
		return nil
	}
	return &PromoCodeDTO{ID: pc.ID, Code: pc.Code, Description: pc.Description}
}

func ToPromoCodeDTOs(codes []*domain.PromoCode) []*PromoCodeDTO {
	out := make([]*PromoCodeDTO, len(codes))
	for i, pc := range codes {
		out[i] = ToPromoCodeDTO(pc)
	}
	return out
}

func ToTokenDTOs(tokens []*domain.TokenWithCode) []*TokenDTO {
	out := make([]*TokenDTO, len(tokens))
	for i, t := range tokens {
		out[i] = &TokenDTO{
			ID:          t.ID,
			Token:       t.Token.Token,
			PromoCodeID: t.PromoCodeID,
			Code:        t.Code,
			Used:        t.Used,
			Status:      string(t.Status()),
			CreatedAt:   t.CreatedAt,
			UsedAt:      t.UsedAt,
			Result:      t.Result,
		}
	}
	return out
}
