package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TokensIssued.WithLabelValues("durable").Inc()
	m.TokensIssued.WithLabelValues("durable").Inc()
	m.TokensIssued.WithLabelValues("ephemeral").Inc()
	m.TokenRedemptions.WithLabelValues("redeemed").Inc()

	if got := testutil.ToFloat64(m.TokensIssued.WithLabelValues("durable")); got != 2 {
		t.Fatalf("durable issued = %v, want 2", got)
	}

	expected := `
# HELP promotoken_token_redemptions_total Redemption attempts, by outcome.
# TYPE promotoken_token_redemptions_total counter
promotoken_token_redemptions_total{outcome="redeemed"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "promotoken_token_redemptions_total"); err != nil {
		t.Fatal(err)
	}
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("registering twice on the same registry should panic")
		}
	}()
	New(reg)
}
