package infrastructure

import (
	"database/sql"
	"time"
)

// PromoCodeModel 对应数据库中的 promo_codes 表
type PromoCodeModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Code        string `gorm:"size:191;not null;uniqueIndex"`
	Description string `gorm:"type:text"`
}

// TableName 指定 GORM 应该使用的表名
func (PromoCodeModel) TableName() string {
	return "promo_codes"
}

// TokenModel 对应数据库中的 tokens 表
// promo_code_id 不声明外键：删除优惠码时令牌要保留下来用于审计。
type TokenModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Token       string `gorm:"size:64;not null;uniqueIndex"`
	PromoCodeID int64  `gorm:"not null;index"`
	Used        bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UsedAt      sql.NullTime
	Result      sql.NullString `gorm:"type:text"`
}

// TableName 指定 GORM 应该使用的表名
func (TokenModel) TableName() string {
	return "tokens"
}

// tokenRow 是 tokens LEFT JOIN promo_codes 的扫描目标
type tokenRow struct {
	ID          int64
	Token       string
	PromoCodeID int64
	Used        bool
	CreatedAt   time.Time
	UsedAt      sql.NullTime
	Result      sql.NullString
	Code        sql.NullString
}
