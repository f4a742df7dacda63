package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"promotoken/internal/service/promotion/domain"
)

func TestTokenRedeemer_WelcomeScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pc := mustCreate(t, f, "WELCOME10", "10% off")
	issued := mustIssue(t, f, pc.ID)
	t1 := issued.Token.Token

	// 校验是只读的，可以重复调用
	for i := 0; i < 3; i++ {
		res, err := f.redeemer.Validate(ctx, t1)
		if err != nil {
			t.Fatalf("validate #%d: %v", i, err)
		}
		if !res.IsValid || res.PromoCode.Code != "WELCOME10" || res.PromoCode.Description != "10% off" {
			t.Fatalf("validate #%d = %+v", i, res)
		}
	}
	stored, _ := f.sqlite.GetToken(ctx, t1)
	if stored.Used {
		t.Fatal("validate must not consume the token")
	}

	out, err := f.redeemer.Redeem(ctx, t1, successResult)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !out.Consumed || !out.Token.Used || out.Token.UsedAt == nil || out.PromoCode.Code != "WELCOME10" {
		t.Fatalf("redeem outcome = %+v", out)
	}

	if _, err := f.redeemer.Validate(ctx, t1); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Fatalf("validate after redeem: %v", err)
	}
	if _, err := f.redeemer.Verify(ctx, t1); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Fatalf("verify after redeem: %v", err)
	}
	if _, err := f.redeemer.Redeem(ctx, t1, successResult); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Fatalf("second redeem: %v", err)
	}

	if got := testutil.ToFloat64(f.metrics.TokenRedemptions.WithLabelValues(outcomeConsumed)); got != 1 {
		t.Errorf("consumed = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.TokenRedemptions.WithLabelValues(outcomeAlreadyUsed)); got != 1 {
		t.Errorf("already_used = %v", got)
	}
	want := []domain.EventType{domain.EventPromoCodeCreated, domain.EventTokenIssued, domain.EventTokenRedeemed}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestTokenRedeemer_UnknownToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.redeemer.Validate(ctx, "does-not-exist")
	if err != nil || res.IsValid || res.PromoCode != nil {
		t.Fatalf("validate unknown = %+v, %v", res, err)
	}
	if _, err := f.redeemer.Verify(ctx, "does-not-exist"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("verify unknown: %v", err)
	}
	if _, err := f.redeemer.Redeem(ctx, "does-not-exist", successResult); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("redeem unknown: %v", err)
	}
	if _, err := f.redeemer.Validate(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("validate empty: %v", err)
	}
}

func TestTokenRedeemer_UnsuccessfulResultLeavesTokenIssued(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pc := mustCreate(t, f, "FREELIST2", "free listing")
	tok := mustIssue(t, f, pc.ID).Token.Token

	for _, result := range []json.RawMessage{
		failureResult,
		json.RawMessage(`{"listingId":"L-1"}`),
		json.RawMessage(`{"success":0}`),
		json.RawMessage(`{"success":""}`),
		json.RawMessage(`{"success":null}`),
		json.RawMessage(`[true]`),
		json.RawMessage(`not json`),
		nil,
	} {
		out, err := f.redeemer.Redeem(ctx, tok, result)
		if err != nil {
			t.Fatalf("redeem with %s: %v", result, err)
		}
		if out.Consumed {
			t.Fatalf("result %s must not consume the token", result)
		}
	}
	stored, _ := f.sqlite.GetToken(ctx, tok)
	if stored.Used || stored.UsedAt != nil || stored.Result != nil {
		t.Fatalf("token changed after unsuccessful results: %+v", stored)
	}

	out, err := f.redeemer.Redeem(ctx, tok, successResult)
	if err != nil || !out.Consumed {
		t.Fatalf("retry with success: %+v, %v", out, err)
	}
	stored, _ = f.sqlite.GetToken(ctx, tok)
	var payload map[string]any
	if err := json.Unmarshal(stored.Result, &payload); err != nil || payload["listingId"] != "L-100" {
		t.Fatalf("stored result = %s", stored.Result)
	}
}

func concurrentRedeem(t *testing.T, f *fixture, token string, workers int) (successes, conflicts int) {
	t.Helper()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.redeemer.Redeem(context.Background(), token, successResult)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrTokenAlreadyUsed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	return successes, conflicts
}

func TestTokenRedeemer_ConcurrentRedeemConsumesOnce(t *testing.T) {
	const workers = 12
	cases := map[string]func(domain.Store) domain.Store{
		"durable":   nil,
		"read-only": readOnly,
	}
	for name, wrap := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, wrap)
			ctx := context.Background()
			pc, err := f.sqlite.CreatePromoCode(ctx, "FREELIST3", "free listing")
			if err != nil {
				t.Fatal(err)
			}
			tok, err := f.sqlite.CreateToken(ctx, "race0000000000000000000000000000", pc.ID)
			if err != nil {
				t.Fatal(err)
			}

			successes, conflicts := concurrentRedeem(t, f, tok.Token, workers)
			if successes != 1 || conflicts != workers-1 {
				t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
			}
		})
	}
}

func TestTokenRedeemer_ReadOnlyShadowConsumption(t *testing.T) {
	f := newFixture(t, readOnly)
	ctx := context.Background()
	pc, err := f.sqlite.CreatePromoCode(ctx, "FREESHIPEU", "free shipping")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := f.sqlite.CreateToken(ctx, "shadow00000000000000000000000000", pc.ID)
	if err != nil {
		t.Fatal(err)
	}

	out, err := f.redeemer.Redeem(ctx, tok.Token, successResult)
	if err != nil || !out.Consumed {
		t.Fatalf("redeem: %+v, %v", out, err)
	}
	durable, _ := f.sqlite.GetToken(ctx, tok.Token)
	if durable.Used {
		t.Fatal("read-only durable row must not change")
	}
	if _, err := f.redeemer.Validate(ctx, tok.Token); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Fatalf("shadow must override the durable copy: %v", err)
	}

	list, err := f.redeemer.ListTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Used || list[0].Code != "FREESHIPEU" {
		t.Fatalf("merged token list = %+v", list)
	}
	if got := testutil.ToFloat64(f.metrics.StoreFallbacks.WithLabelValues("mark_token_used")); got != 1 {
		t.Errorf("mark_token_used fallbacks = %v", got)
	}
}

func TestTokenRedeemer_UnavailableStoreDoesNotShadowConsume(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s domain.Store) domain.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	ctx := context.Background()
	pc := mustCreate(t, f, "FREESHIPUK", "uk")
	tok := mustIssue(t, f, pc.ID).Token.Token

	flaky.failWrites.Store(true)
	if _, err := f.redeemer.Redeem(ctx, tok, successResult); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("redeem during outage: got %v", err)
	}
	if _, err := f.overlay.GetToken(ctx, tok); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatal("a transient failure must not create a shadow copy")
	}

	flaky.failWrites.Store(false)
	out, err := f.redeemer.Redeem(ctx, tok, successResult)
	if err != nil || !out.Consumed {
		t.Fatalf("redeem after recovery: %+v, %v", out, err)
	}
}

func TestTokenRedeemer_DeletedCodeFailsClosed(t *testing.T) {
	cases := map[string]func(domain.Store) domain.Store{
		"hard delete":      nil,
		"tombstone delete": readOnly,
	}
	for name, wrap := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, wrap)
			ctx := context.Background()
			pc, err := f.sqlite.CreatePromoCode(ctx, "DISCOUNT15", "15% off")
			if err != nil {
				t.Fatal(err)
			}
			tok, err := f.sqlite.CreateToken(ctx, "orphan00000000000000000000000000", pc.ID)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.registry.Delete(ctx, pc.ID); err != nil {
				t.Fatal(err)
			}

			res, err := f.redeemer.Validate(ctx, tok.Token)
			if err != nil || res.IsValid {
				t.Fatalf("validate orphan = %+v, %v", res, err)
			}
			if _, err := f.redeemer.Verify(ctx, tok.Token); !errors.Is(err, domain.ErrTokenNotFound) {
				t.Fatalf("verify orphan: %v", err)
			}
			if _, err := f.redeemer.Redeem(ctx, tok.Token, successResult); !errors.Is(err, domain.ErrTokenNotFound) {
				t.Fatalf("redeem orphan: %v", err)
			}

			// 令牌保留用于审计，列表中仍然能看到
			list, err := f.redeemer.ListTokens(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 || list[0].Token.Token != tok.Token || list[0].Used {
				t.Fatalf("token list = %+v", list)
			}
		})
	}
}

func TestTokenRedeemer_EphemeralTokenLifecycle(t *testing.T) {
	f := newFixture(t, readOnly)
	ctx := context.Background()
	pc := mustCreate(t, f, "POPUP", "pop-up store")
	issued := mustIssue(t, f, pc.ID)

	res, err := f.redeemer.Validate(ctx, issued.Token.Token)
	if err != nil || !res.IsValid || res.PromoCode.ID != pc.ID {
		t.Fatalf("validate ephemeral = %+v, %v", res, err)
	}
	out, err := f.redeemer.Redeem(ctx, issued.Token.Token, successResult)
	if err != nil || !out.Consumed || !out.Token.IsEphemeral() {
		t.Fatalf("redeem ephemeral = %+v, %v", out, err)
	}
	if _, err := f.redeemer.Redeem(ctx, issued.Token.Token, successResult); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Fatalf("second redeem: %v", err)
	}

	if err := f.registry.Delete(ctx, pc.ID); err != nil {
		t.Fatal(err)
	}
	list, err := f.redeemer.ListTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Code != "" {
		t.Fatalf("token for a removed overlay code = %+v", list)
	}
}

func TestTokenRedeemer_TruthySuccessConsumes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pc := mustCreate(t, f, "TRUTHY", "truthy success values")

	for _, result := range []json.RawMessage{
		json.RawMessage(`{"success":1}`),
		json.RawMessage(`{"success":"yes"}`),
		json.RawMessage(`{"success":{}}`),
		json.RawMessage(`{"success":[]}`),
	} {
		tok := mustIssue(t, f, pc.ID).Token.Token
		out, err := f.redeemer.Redeem(ctx, tok, result)
		if err != nil {
			t.Fatalf("redeem with %s: %v", result, err)
		}
		if !out.Consumed {
			t.Fatalf("result %s should consume the token", result)
		}
		stored, err := f.sqlite.GetToken(ctx, tok)
		if err != nil || !stored.Used {
			t.Fatalf("stored token after %s: %+v, %v", result, stored, err)
		}
	}
}
