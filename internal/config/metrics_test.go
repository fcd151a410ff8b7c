package config

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyConfigLoadError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "none", err: nil, want: "none"},
		{name: "validation", err: errors.New("validate config: REFRESH_TOKEN_PEPPER must be at least 16 bytes"), want: "validation"},
		{name: "parse", err: fmt.Errorf("parse TOTP_SKEW: %w", errors.New("invalid syntax")), want: "parse"},
		{name: "joined keeps first class", err: errors.Join(errors.New("validate config: DATABASE_URL is required"), errors.New("parse REDIS_DB: bad")), want: "validation"},
		{name: "other", err: errors.New("dial tcp: refused"), want: "load"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyConfigLoadError(tc.err); got != tc.want {
				t.Fatalf("classifyConfigLoadError()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeConfigProfile(t *testing.T) {
	cases := map[string]string{
		"  ProD  ":   "production",
		"production": "production",
		"Stage":      "staging",
		"local":      "development",
		"CI":         "test",
		"   ":        "unknown",
		"qa-eu-1":    "other",
	}
	for in, want := range cases {
		if got := normalizeConfigProfile(in); got != want {
			t.Fatalf("normalizeConfigProfile(%q)=%q want %q", in, got, want)
		}
	}
}

func FuzzNormalizeConfigProfileBoundedLabels(f *testing.F) {
	f.Add("  ProD  ")
	f.Add("")
	f.Add("ðŸ”¥PRODðŸ”¥")
	f.Add(strings.Repeat("A", 4096))

	allowed := map[string]bool{"unknown": true, "other": true}
	for _, v := range profileAliases {
		allowed[v] = true
	}

	f.Fuzz(func(t *testing.T, raw string) {
		got := normalizeConfigProfile(raw)
		if !allowed[got] {
			t.Fatalf("label %q outside the fixed set for input %q", got, raw)
		}
		if strings.TrimSpace(raw) == "" && got != "unknown" {
			t.Fatalf("expected unknown for blank input, got %q", got)
		}
	})
}
