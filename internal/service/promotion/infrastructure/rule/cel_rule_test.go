package rule

import "testing"

func TestCELSuccessRule_Default(t *testing.T) {
	r, err := NewCELSuccessRule("")
	if err != nil {
		t.Fatalf("compile default: %v", err)
	}
	cases := []struct {
		name   string
		result map[string]any
		want   bool
	}{
		{"success true", map[string]any{"success": true, "listingId": "L-1"}, true},
		{"non-empty string", map[string]any{"success": "yes"}, true},
		{"string false is still a non-empty string", map[string]any{"success": "false"}, true},
		{"int one", map[string]any{"success": 1}, true},
		{"float one", map[string]any{"success": 1.0}, true},
		{"negative number", map[string]any{"success": -2.5}, true},
		{"empty object", map[string]any{"success": map[string]any{}}, true},
		{"empty list", map[string]any{"success": []any{}}, true},
		{"success false", map[string]any{"success": false}, false},
		{"int zero", map[string]any{"success": 0}, false},
		{"float zero", map[string]any{"success": 0.0}, false},
		{"empty string", map[string]any{"success": ""}, false},
		{"null", map[string]any{"success": nil}, false},
		{"missing field", map[string]any{"listingId": "L-1"}, false},
		{"nil payload", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Succeeded(tc.result)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Succeeded(%v) = %v, want %v", tc.result, got, tc.want)
			}
		})
	}
}

func TestCELSuccessRule_Custom(t *testing.T) {
	r, err := NewCELSuccessRule(`has(result.status) && result.status == "ok"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := r.Succeeded(map[string]any{"status": "ok"})
	if err != nil || !ok {
		t.Fatalf("status ok: %v, %v", ok, err)
	}
	ok, err = r.Succeeded(map[string]any{"status": "failed"})
	if err != nil || ok {
		t.Fatalf("status failed: %v, %v", ok, err)
	}
}

func TestCELSuccessRule_RejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{
		`result.success ==`,
		`"not a bool"`,
		`unknown_var == true`,
	} {
		if _, err := NewCELSuccessRule(expr); err == nil {
			t.Errorf("expected compile error for %q", expr)
		}
	}
}
