package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"promotoken/internal/service/promotion/domain"
)

// codeEntry 是覆盖层中优惠码条目的封闭变体：liveCode | tombstone。
type codeEntry interface {
	isCodeEntry()
}

// liveCode 是持久存储不可写期间在本进程创建的优惠码，ID 为负数。
type liveCode struct {
	code *domain.PromoCode
}

// tombstone 记录持久存储中某个 ID 的优惠码在逻辑上已删除，保留删除前的快照。
type tombstone struct {
	snapshot  *domain.PromoCode
	deletedAt time.Time
}

func (liveCode) isCodeEntry()  {}
func (tombstone) isCodeEntry() {}

// Overlay 是 domain.Overlay 的内存实现。
//
// 所有读写都经过同一把互斥锁串行化；它只在单个进程内有效，
// 进程重启后内容丢失，多个进程之间也互不可见。这是已知并接受的限制。
type Overlay struct {
	mu          sync.Mutex
	now         func() time.Time
	codes       map[int64]codeEntry
	tokens      map[string]*domain.Token
	lastCodeID  int64
	lastTokenID int64
}

// NewOverlay 创建一个空的覆盖层。由组合根创建并注入到需要它的组件中。
func NewOverlay() *Overlay {
	return &Overlay{
		now:    func() time.Time { return time.Now().UTC() },
		codes:  make(map[int64]codeEntry),
		tokens: make(map[string]*domain.Token),
	}
}

// 覆盖层的 ID 从 -1 开始递减，与持久存储的正数 ID 不相交。
func (o *Overlay) nextCodeID() int64 {
	o.lastCodeID--
	return o.lastCodeID
}

func (o *Overlay) nextTokenID() int64 {
	o.lastTokenID--
	return o.lastTokenID
}

func (o *Overlay) CreatePromoCode(_ context.Context, code, description string) (*domain.PromoCode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.liveByCodeLocked(code) != nil {
		return nil, domain.ErrDuplicateCode
	}
	pc := &domain.PromoCode{ID: o.nextCodeID(), Code: code, Description: description}
	o.codes[pc.ID] = liveCode{code: pc}
	return pc.Clone(), nil
}

func (o *Overlay) GetPromoCodeByID(_ context.Context, id int64) (*domain.PromoCode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.codes[id].(liveCode); ok {
		return e.code.Clone(), nil
	}
	return nil, domain.ErrPromoCodeNotFound
}

func (o *Overlay) GetPromoCodeByCode(_ context.Context, code string) (*domain.PromoCode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pc := o.liveByCodeLocked(code); pc != nil {
		return pc.Clone(), nil
	}
	return nil, domain.ErrPromoCodeNotFound
}

func (o *Overlay) liveByCodeLocked(code string) *domain.PromoCode {
	for _, e := range o.codes {
		if lc, ok := e.(liveCode); ok && lc.code.Code == code {
			return lc.code
		}
	}
	return nil
}

// ListPromoCodes 只返回存活条目，墓碑不会出现在结果中
func (o *Overlay) ListPromoCodes(_ context.Context) ([]*domain.PromoCode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	codes := make([]*domain.PromoCode, 0, len(o.codes))
	for _, e := range o.codes {
		if lc, ok := e.(liveCode); ok {
			codes = append(codes, lc.code.Clone())
		}
	}
	domain.SortPromoCodes(codes)
	return codes, nil
}

func (o *Overlay) DeletePromoCode(_ context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.codes[id].(liveCode); !ok {
		return domain.ErrPromoCodeNotFound
	}
	delete(o.codes, id)
	return nil
}

// ReplacePromoCodes 丢弃覆盖层里的存活条目和墓碑，换成 seeds。
// seeds 中有重复 code 时返回 ErrDuplicateCode，原有内容保持不变。
func (o *Overlay) ReplacePromoCodes(ctx context.Context, seeds []domain.PromoCodeSeed) ([]*domain.PromoCode, error) {
	seen := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		if _, dup := seen[s.Code]; dup {
			return nil, domain.ErrDuplicateCode
		}
		seen[s.Code] = struct{}{}
	}

	o.mu.Lock()
	codes := make(map[int64]codeEntry, len(seeds))
	for _, s := range seeds {
		pc := &domain.PromoCode{ID: o.nextCodeID(), Code: s.Code, Description: s.Description}
		codes[pc.ID] = liveCode{code: pc}
	}
	o.codes = codes
	o.mu.Unlock()
	return o.ListPromoCodes(ctx)
}

func (o *Overlay) CreateToken(_ context.Context, token string, promoCodeID int64) (*domain.Token, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.tokens[token]; exists {
		return nil, domain.ErrDuplicateToken
	}
	t := &domain.Token{
		ID:          o.nextTokenID(),
		Token:       token,
		PromoCodeID: promoCodeID,
		CreatedAt:   o.now(),
	}
	o.tokens[token] = t
	return t.Clone(), nil
}

func (o *Overlay) GetToken(_ context.Context, token string) (*domain.Token, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tokens[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return t.Clone(), nil
}

func (o *Overlay) MarkTokenUsed(_ context.Context, token string, result json.RawMessage) (*domain.Token, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tokens[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	if err := t.Consume(result, o.now()); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// ListTokens 返回覆盖层中的令牌（包括持久令牌的影子副本，它们的 ID 为正数）。
// code 只能从覆盖层自身解析，解析不到时为空，由调用方补全。
func (o *Overlay) ListTokens(_ context.Context) ([]*domain.TokenWithCode, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tokens := make([]*domain.TokenWithCode, 0, len(o.tokens))
	for _, t := range o.tokens {
		twc := &domain.TokenWithCode{Token: t.Clone()}
		switch e := o.codes[t.PromoCodeID].(type) {
		case liveCode:
			twc.Code = e.code.Code
		case tombstone:
			twc.Code = e.snapshot.Code
		}
		tokens = append(tokens, twc)
	}
	domain.SortTokens(tokens)
	return tokens, nil
}

// Tombstone 隐藏一条持久记录。对同一个 ID 重复调用会刷新快照。
func (o *Overlay) Tombstone(_ context.Context, code *domain.PromoCode) error {
	if code == nil {
		return domain.ErrInvalidInput
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if code.IsEphemeral() {
		if _, ok := o.codes[code.ID].(liveCode); !ok {
			return domain.ErrPromoCodeNotFound
		}
		delete(o.codes, code.ID)
		return nil
	}
	o.codes[code.ID] = tombstone{snapshot: code.Clone(), deletedAt: o.now()}
	return nil
}

func (o *Overlay) IsTombstoned(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.codes[id].(tombstone)
	return ok
}

func (o *Overlay) TombstonedCode(id int64) (*domain.PromoCode, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts, ok := o.codes[id].(tombstone); ok {
		return ts.snapshot.Clone(), true
	}
	return nil, false
}

// AdoptConsumed 在覆盖层中记录一个持久令牌已被消费。
// 检查与写入在同一把锁内完成，所以本进程内只有一个调用者能成功。
func (o *Overlay) AdoptConsumed(_ context.Context, token *domain.Token, result json.RawMessage) (*domain.Token, error) {
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tokens[token.Token]
	if !ok {
		t = token.Clone()
	}
	if err := t.Consume(result, o.now()); err != nil {
		return nil, err
	}
	o.tokens[t.Token] = t
	return t.Clone(), nil
}

func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = make(map[int64]codeEntry)
	o.tokens = make(map[string]*domain.Token)
}

var _ domain.Overlay = (*Overlay)(nil)
