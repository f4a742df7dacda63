package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "promotoken"

// Metrics 汇总服务暴露的 prometheus 指标
type Metrics struct {
	PromoCodesCreated *prometheus.CounterVec
	PromoCodesDeleted *prometheus.CounterVec
	TokensIssued      *prometheus.CounterVec
	TokenRedemptions  *prometheus.CounterVec
	StoreFallbacks    *prometheus.CounterVec
	RedeemDuration    prometheus.Histogram
}

// New 在给定的 Registerer 上注册全部指标。生产环境传 prometheus.DefaultRegisterer，测试传新的 Registry。
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PromoCodesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_codes_created_total",
			Help:      "Promo codes created, by backend (durable or ephemeral).",
		}, []string{"backend"}),
		PromoCodesDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_codes_deleted_total",
			Help:      "Promo codes deleted, by mode (hard, overlay or tombstone).",
		}, []string{"mode"}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Redemption tokens issued, by backend.",
		}, []string{"backend"}),
		TokenRedemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_redemptions_total",
			Help:      "Redemption attempts, by outcome.",
		}, []string{"outcome"}),
		StoreFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Operations that fell back to the in-process overlay, by operation.",
		}, []string{"op"}),
		RedeemDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_redeem_duration_seconds",
			Help:      "Latency of token redemption.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// NewNop 返回注册在一个私有 Registry 上的指标，用于不关心指标的调用方
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
