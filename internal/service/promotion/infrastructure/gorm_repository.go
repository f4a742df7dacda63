package infrastructure

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"promotoken/internal/service/promotion/domain"
)

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误码
const mysqlDuplicateEntry = 1062

// GormStore 是 domain.Store 的 GORM 实现，唯一性和兑换的原子性都交给数据库保证。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个新的 GORM 仓储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (r *GormStore) CreatePromoCode(ctx context.Context, code, description string) (*domain.PromoCode, error) {
	model := PromoCodeModel{Code: code, Description: description}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, storeErr("create promo code", errors.Wrapf(err, "insert code %q", code))
	}
	return ToDomainPromoCode(&model), nil
}

func (r *GormStore) GetPromoCodeByID(ctx context.Context, id int64) (*domain.PromoCode, error) {
	var model PromoCodeModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPromoCodeNotFound
		}
		return nil, storeErr("get promo code", errors.Wrapf(err, "select id %d", id))
	}
	return ToDomainPromoCode(&model), nil
}

func (r *GormStore) GetPromoCodeByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var model PromoCodeModel
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPromoCodeNotFound
		}
		return nil, storeErr("get promo code", errors.Wrapf(err, "select code %q", code))
	}
	return ToDomainPromoCode(&model), nil
}

func (r *GormStore) ListPromoCodes(ctx context.Context) ([]*domain.PromoCode, error) {
	var models []*PromoCodeModel
	if err := r.db.WithContext(ctx).Order("code ASC, id ASC").Find(&models).Error; err != nil {
		return nil, storeErr("list promo codes", err)
	}
	codes := make([]*domain.PromoCode, len(models))
	for i, m := range models {
		codes[i] = ToDomainPromoCode(m)
	}
	return codes, nil
}

func (r *GormStore) DeletePromoCode(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&PromoCodeModel{})
	if res.Error != nil {
		return storeErr("delete promo code", errors.Wrapf(res.Error, "delete id %d", id))
	}
	if res.RowsAffected == 0 {
		return domain.ErrPromoCodeNotFound
	}
	return nil
}

// ReplacePromoCodes 在一个事务里清空并重建优惠码目录
func (r *GormStore) ReplacePromoCodes(ctx context.Context, seeds []domain.PromoCodeSeed) ([]*domain.PromoCode, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&PromoCodeModel{}).Error; err != nil {
			return errors.Wrap(err, "clear promo codes")
		}
		if len(seeds) == 0 {
			return nil
		}
		models := make([]*PromoCodeModel, len(seeds))
		for i, s := range seeds {
			models[i] = &PromoCodeModel{Code: s.Code, Description: s.Description}
		}
		return tx.CreateInBatches(models, 100).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, storeErr("replace promo codes", err)
	}
	return r.ListPromoCodes(ctx)
}

func (r *GormStore) CreateToken(ctx context.Context, token string, promoCodeID int64) (*domain.Token, error) {
	model := TokenModel{
		Token:       token,
		PromoCodeID: promoCodeID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, domain.ErrDuplicateToken
		}
		return nil, storeErr("create token", errors.Wrapf(err, "insert token for promo code %d", promoCodeID))
	}
	return ToDomainToken(&model), nil
}

func (r *GormStore) GetToken(ctx context.Context, token string) (*domain.Token, error) {
	var model TokenModel
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, storeErr("get token", errors.Wrapf(err, "select token %s", domain.TokenPrefix(token)))
	}
	return ToDomainToken(&model), nil
}

// MarkTokenUsed 用一条带条件的 UPDATE 完成 check-and-set。
// 只有 used = false 的行会被更新，RowsAffected 为 0 说明令牌不存在或已被别人抢先消费。
func (r *GormStore) MarkTokenUsed(ctx context.Context, token string, result json.RawMessage) (*domain.Token, error) {
	res := r.db.WithContext(ctx).Model(&TokenModel{}).
		Where("token = ? AND used = ?", token, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_at": time.Now().UTC(),
			"result":  resultColumn(result),
		})
	if res.Error != nil {
		return nil, storeErr("mark token used", errors.Wrapf(res.Error, "update token %s", domain.TokenPrefix(token)))
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetToken(ctx, token); err != nil {
			return nil, err
		}
		return nil, domain.ErrTokenAlreadyUsed
	}
	return r.GetToken(ctx, token)
}

func (r *GormStore) ListTokens(ctx context.Context) ([]*domain.TokenWithCode, error) {
	var rows []*tokenRow
	err := r.db.WithContext(ctx).
		Table("tokens AS t").
		Select("t.id, t.token, t.promo_code_id, t.used, t.created_at, t.used_at, t.result, p.code AS code").
		Joins("LEFT JOIN promo_codes AS p ON p.id = t.promo_code_id").
		Order("t.created_at DESC, t.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("list tokens", err)
	}
	tokens := make([]*domain.TokenWithCode, len(rows))
	for i, row := range rows {
		tokens[i] = toDomainTokenWithCode(row)
	}
	return tokens, nil
}

func storeErr(op string, err error) error {
	return &domain.StoreError{Op: op, Err: err}
}

// isDuplicateKey 识别 MySQL 和 SQLite 两种方言下的唯一键冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ domain.Store = (*GormStore)(nil)
