package application

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"promotoken/internal/service/promotion/domain"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestTokenIssuer_IssueForDurableCode(t *testing.T) {
	f := newFixture(t, nil)
	pc := mustCreate(t, f, "FREELIST1", "free listing")

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		issued := mustIssue(t, f, pc.ID)
		if !hexToken.MatchString(issued.Token.Token) {
			t.Fatalf("token %q is not 32 hex characters", issued.Token.Token)
		}
		if seen[issued.Token.Token] {
			t.Fatalf("token %s issued twice", issued.Token.Token)
		}
		seen[issued.Token.Token] = true
		if issued.PromoCode.Code != "FREELIST1" || issued.Token.IsEphemeral() || issued.Token.Used {
			t.Fatalf("unexpected issue result %+v / %+v", issued.Token, issued.PromoCode)
		}
	}
}

func TestTokenIssuer_UnknownOrDeletedCode(t *testing.T) {
	f := newFixture(t, readOnly)
	ctx := context.Background()
	if _, err := f.issuer.Issue(ctx, 999999); !errors.Is(err, domain.ErrPromoCodeNotFound) {
		t.Fatalf("unknown code: got %v", err)
	}
	if _, err := f.issuer.Issue(ctx, -42); !errors.Is(err, domain.ErrPromoCodeNotFound) {
		t.Fatalf("unknown ephemeral code: got %v", err)
	}

	seeded, err := f.sqlite.CreatePromoCode(ctx, "DISCOUNT10", "10% off")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.registry.Delete(ctx, seeded.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.issuer.Issue(ctx, seeded.ID); !errors.Is(err, domain.ErrPromoCodeNotFound) {
		t.Fatalf("tombstoned code: got %v", err)
	}
}

func TestTokenIssuer_ReadOnlyStoreWritesToOverlay(t *testing.T) {
	f := newFixture(t, readOnly)
	ctx := context.Background()
	durableCode, err := f.sqlite.CreatePromoCode(ctx, "WELCOME15", "welcome")
	if err != nil {
		t.Fatal(err)
	}
	ephemeralCode := mustCreate(t, f, "LOCAL", "overlay code")

	for _, pc := range []*domain.PromoCode{durableCode, ephemeralCode} {
		issued := mustIssue(t, f, pc.ID)
		if !issued.Token.IsEphemeral() {
			t.Errorf("token for %s should be ephemeral", pc.Code)
		}
		if issued.Token.PromoCodeID != pc.ID {
			t.Errorf("token bound to %d, want %d", issued.Token.PromoCodeID, pc.ID)
		}
		if _, err := f.sqlite.GetToken(ctx, issued.Token.Token); !errors.Is(err, domain.ErrTokenNotFound) {
			t.Errorf("token must not reach the durable store: %v", err)
		}
	}
}

func TestTokenIssuer_RetriesOnCollision(t *testing.T) {
	f := newFixture(t, nil)
	pc := mustCreate(t, f, "DISCOUNT25", "25% off")
	first := mustIssue(t, f, pc.ID)

	values := []string{first.Token.Token, first.Token.Token, "ffffffffffffffffffffffffffffffff"}
	f.issuer.newToken = func() (string, error) {
		v := values[0]
		values = values[1:]
		return v, nil
	}
	issued := mustIssue(t, f, pc.ID)
	if issued.Token.Token != "ffffffffffffffffffffffffffffffff" {
		t.Fatalf("expected third candidate, got %s", issued.Token.Token)
	}
}

func TestTokenIssuer_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, nil)
	pc := mustCreate(t, f, "DISCOUNT30", "30% off")
	first := mustIssue(t, f, pc.ID)
	f.issuer.newToken = func() (string, error) { return first.Token.Token, nil }

	if _, err := f.issuer.Issue(context.Background(), pc.ID); !errors.Is(err, domain.ErrDuplicateToken) {
		t.Fatalf("got %v, want ErrDuplicateToken", err)
	}
}

func TestTokenIssuer_CollisionAcrossBackends(t *testing.T) {
	f := newFixture(t, readOnly)
	ctx := context.Background()
	pc, err := f.sqlite.CreatePromoCode(ctx, "FREESHIPCA", "ship")
	if err != nil {
		t.Fatal(err)
	}
	existing, err := f.sqlite.CreateToken(ctx, "0000000000000000000000000000000a", pc.ID)
	if err != nil {
		t.Fatal(err)
	}

	values := []string{existing.Token, "0000000000000000000000000000000b"}
	f.issuer.newToken = func() (string, error) {
		v := values[0]
		values = values[1:]
		return v, nil
	}
	issued := mustIssue(t, f, pc.ID)
	if issued.Token.Token != "0000000000000000000000000000000b" {
		t.Fatalf("overlay accepted a token that exists durably: %s", issued.Token.Token)
	}
}
