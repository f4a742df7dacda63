package infrastructure

import (
	"context"

	"promotoken/internal/pkg/logger"

	"promotoken/internal/service/promotion/domain"
)

// DefaultCatalogue 是空库初始化时写入的默认优惠码
var DefaultCatalogue = []domain.PromoCodeSeed{
	{Code: "FREELIST1", Description: "Free listing promo code 1"},
	{Code: "FREELIST2", Description: "Free listing promo code 2"},
	{Code: "FREELIST3", Description: "Free listing promo code 3"},
	{Code: "FREELIST4", Description: "Free listing promo code 4"},
	{Code: "FREELIST5", Description: "Free listing promo code 5"},
	{Code: "FREELIST6", Description: "Free listing promo code 6"},
	{Code: "FREELIST7", Description: "Free listing promo code 7"},
	{Code: "FREELIST8", Description: "Free listing promo code 8"},
	{Code: "FREELIST9", Description: "Free listing promo code 9"},
	{Code: "FREELIST10", Description: "Free listing promo code 10"},
	{Code: "DISCOUNT10", Description: "10% discount promo code"},
	{Code: "DISCOUNT15", Description: "15% discount promo code"},
	{Code: "DISCOUNT20", Description: "20% discount promo code"},
	{Code: "DISCOUNT25", Description: "25% discount promo code"},
	{Code: "DISCOUNT30", Description: "30% discount promo code"},
	{Code: "FREESHIPUS", Description: "Free shipping in US"},
	{Code: "FREESHIPCA", Description: "Free shipping in Canada"},
	{Code: "FREESHIPEU", Description: "Free shipping in Europe"},
	{Code: "FREESHIPUK", Description: "Free shipping in UK"},
	{Code: "FREESHIPAU", Description: "Free shipping in Australia"},
	{Code: "WELCOME10", Description: "Welcome 10% discount"},
	{Code: "WELCOME15", Description: "Welcome 15% discount"},
	{Code: "SUMMER2025", Description: "Summer 2025 special promo"},
	{Code: "WINTER2025", Description: "Winter 2025 special promo"},
	{Code: "HOLIDAY2025", Description: "Holiday 2025 special promo"},
}

// ResetCatalogue 是 POST /api/promo-codes/reset 写入的固定目录，与初始化目录不同
var ResetCatalogue = []domain.PromoCodeSeed{
	{Code: "9999", Description: "Etsy seller $100 free credit"},
	{Code: "1320", Description: "Etsy seller $50 free credit"},
	{Code: "1515", Description: "Etsy seller $75 free credit"},
	{Code: "4040", Description: "Etsy seller $25 free credit"},
	{Code: "11111", Description: "Etsy seller $150 free credit"},
	{Code: "2233", Description: "Etsy seller $200 free credit"},
	{Code: "1140", Description: "Etsy seller $40 free credit"},
	{Code: "10047", Description: "Etsy seller $60 free credit"},
	{Code: "6760", Description: "Etsy seller $80 free credit"},
	{Code: "2024", Description: "Etsy seller $120 free credit"},
	{Code: "1111", Description: "Etsy seller 10% bonus credit"},
	{Code: "370", Description: "Etsy seller 15% bonus credit"},
	{Code: "1740", Description: "Etsy seller 20% bonus credit"},
	{Code: "960", Description: "Etsy seller 25% bonus credit"},
	{Code: "0228", Description: "Etsy seller 30% bonus credit"},
	{Code: "0917", Description: "Etsy seller free US shipping credit"},
	{Code: "0987", Description: "Etsy seller free Canada shipping credit"},
	{Code: "1141", Description: "Etsy seller free Europe shipping credit"},
	{Code: "1234", Description: "Etsy seller free UK shipping credit"},
	{Code: "20241", Description: "Etsy seller free Australia shipping credit"},
	{Code: "67960", Description: "Etsy seller 10% welcome bonus credit"},
	{Code: "WELCOME15", Description: "Etsy seller 15% welcome bonus credit"},
	{Code: "SUMMER2025", Description: "Summer 2025 special promo"},
	{Code: "WINTER2025", Description: "Winter 2025 special promo"},
	{Code: "HOLIDAY2025", Description: "Holiday 2025 special promo"},
}

// SeedIfEmpty 在持久存储没有任何优惠码时写入默认目录
func SeedIfEmpty(ctx context.Context, store domain.Store, seeds []domain.PromoCodeSeed) error {
	existing, err := store.ListPromoCodes(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	created, err := store.ReplacePromoCodes(ctx, seeds)
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Int("count", len(created)).Msg("seeded default promo codes")
	return nil
}
