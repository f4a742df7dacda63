package infrastructure

import (
	"database/sql"
	"encoding/json"

	"promotoken/internal/service/promotion/domain"
)

// ToDomainPromoCode 将数据库模型转换为领域模型
func ToDomainPromoCode(model *PromoCodeModel) *domain.PromoCode {
	if model == nil {
		return nil
	}
	return &domain.PromoCode{
		ID:          model.ID,
		Code:        model.Code,
		Description: model.Description,
	}
}

// ToDomainToken 将数据库模型转换为领域模型
func ToDomainToken(model *TokenModel) *domain.Token {
	if model == nil {
		return nil
	}
	t := &domain.Token{
		ID:          model.ID,
		Token:       model.Token,
		PromoCodeID: model.PromoCodeID,
		Used:        model.Used,
		CreatedAt:   model.CreatedAt,
	}
	if model.UsedAt.Valid {
		usedAt := model.UsedAt.Time
		t.UsedAt = &usedAt
	}
	if model.Result.Valid {
		t.Result = json.RawMessage(model.Result.String)
	}
	return t
}

func toDomainTokenWithCode(row *tokenRow) *domain.TokenWithCode {
	return &domain.TokenWithCode{
		Token: ToDomainToken(&TokenModel{
			ID:          row.ID,
			Token:       row.Token,
			PromoCodeID: row.PromoCodeID,
			Used:        row.Used,
			CreatedAt:   row.CreatedAt,
			UsedAt:      row.UsedAt,
			Result:      row.Result,
		}),
		Code: row.Code.String,
	}
}

// resultColumn 把兑换结果转换为可空的 TEXT 列
func resultColumn(result json.RawMessage) sql.NullString {
	if result == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(result), Valid: true}
}
