package domain

import "sort"

// SortPromoCodes 按 code 升序排序，code 相同时按 id 升序
func SortPromoCodes(codes []*PromoCode) {
	sort.SliceStable(codes, func(i, j int) bool {
		if codes[i].Code != codes[j].Code {
			return codes[i].Code < codes[j].Code
		}
		return codes[i].ID < codes[j].ID
	})
}

// SortTokens 按 created_at 倒序排序，时间相同时按 id 倒序
func SortTokens(tokens []*TokenWithCode) {
	sort.SliceStable(tokens, func(i, j int) bool {
		a, b := tokens[i].CreatedAt, tokens[j].CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return tokens[i].ID > tokens[j].ID
	})
}
