package application

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"promotoken/internal/pkg/metrics"
	"promotoken/internal/service/promotion/domain"
	"promotoken/internal/service/promotion/infrastructure"
	"promotoken/internal/service/promotion/infrastructure/rule"
)

// flakyStore 包装一个持久存储，可以在测试中让写操作返回 ErrStoreUnavailable
type flakyStore struct {
	domain.Store
	failWrites atomic.Bool
	failReads  atomic.Bool
}

func (f *flakyStore) GetPromoCodeByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	if f.failReads.Load() {
		return nil, unavailable("get promo code by code")
	}
	return f.Store.GetPromoCodeByCode(ctx, code)
}

func unavailable(op string) error {
	return &domain.StoreError{Op: op, Err: errors.New("database is locked")}
}

func (f *flakyStore) CreatePromoCode(ctx context.Context, code, description string) (*domain.PromoCode, error) {
	if f.failWrites.Load() {
		return nil, unavailable("create promo code")
	}
	return f.Store.CreatePromoCode(ctx, code, description)
}

func (f *flakyStore) DeletePromoCode(ctx context.Context, id int64) error {
	if f.failWrites.Load() {
		return unavailable("delete promo code")
	}
	return f.Store.DeletePromoCode(ctx, id)
}

func (f *flakyStore) CreateToken(ctx context.Context, token string, promoCodeID int64) (*domain.Token, error) {
	if f.failWrites.Load() {
		return nil, unavailable("create token")
	}
	return f.Store.CreateToken(ctx, token, promoCodeID)
}

func (f *flakyStore) MarkTokenUsed(ctx context.Context, token string, result json.RawMessage) (*domain.Token, error) {
	if f.failWrites.Load() {
		return nil, unavailable("mark token used")
	}
	return f.Store.MarkTokenUsed(ctx, token, result)
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	sqlite   domain.Store
	durable  domain.Store
	overlay  *infrastructure.Overlay
	metrics  *metrics.Metrics
	events   *recordingPublisher
	registry *CodeRegistry
	issuer   *TokenIssuer
	redeemer *TokenRedeemer
}

// newFixture 用 sqlite 作为持久存储组装三个用例服务。wrap 可以替换持久存储（只读、故障注入）。
func newFixture(t *testing.T, wrap func(domain.Store) domain.Store) *fixture {
	t.Helper()
	db, err := infrastructure.OpenDB(infrastructure.DriverSQLite, filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	sqlite := infrastructure.NewGormStore(db)
	var durable domain.Store = sqlite
	if wrap != nil {
		durable = wrap(sqlite)
	}

	successRule, err := rule.NewCELSuccessRule("")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		sqlite:  sqlite,
		durable: durable,
		overlay: infrastructure.NewOverlay(),
		metrics: metrics.New(prometheus.NewRegistry()),
		events:  &recordingPublisher{},
	}
	f.wire(successRule)
	return f
}

func (f *fixture) wire(successRule domain.SuccessRule) {
	deps := Deps{Durable: f.durable, Overlay: f.overlay, Publisher: f.events, Metrics: f.metrics}
	f.registry = NewCodeRegistry(deps, infrastructure.ResetCatalogue)
	f.issuer = NewTokenIssuer(deps, f.registry)
	f.redeemer = NewTokenRedeemer(deps, f.registry, successRule)
}

// sibling 模拟进程重启或另一个实例：共享同一个持久存储，但覆盖层是新的
func (f *fixture) sibling(t *testing.T) *fixture {
	t.Helper()
	successRule, err := rule.NewCELSuccessRule("")
	if err != nil {
		t.Fatal(err)
	}
	s := &fixture{
		sqlite:  f.sqlite,
		durable: f.durable,
		overlay: infrastructure.NewOverlay(),
		metrics: metrics.New(prometheus.NewRegistry()),
		events:  &recordingPublisher{},
	}
	s.wire(successRule)
	return s
}

func mustCreate(t *testing.T, f *fixture, code, description string) *domain.PromoCode {
	t.Helper()
	pc, err := f.registry.Create(context.Background(), code, description)
	if err != nil {
		t.Fatalf("create %s: %v", code, err)
	}
	return pc
}

func mustIssue(t *testing.T, f *fixture, id int64) *IssuedToken {
	t.Helper()
	issued, err := f.issuer.Issue(context.Background(), id)
	if err != nil {
		t.Fatalf("issue for %d: %v", id, err)
	}
	return issued
}

var (
	successResult = json.RawMessage(`{"success":true,"listingId":"L-100"}`)
	failureResult = json.RawMessage(`{"success":false,"error":"listing rejected"}`)
)
