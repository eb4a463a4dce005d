package i18n

import (
	"strings"
	"testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse("en", map[string][]byte{
		"en": []byte("greeting: \"Hello, %s\"\nmenu:\n  balance: \"Balance\"\nonly_en: \"fallback\"\n"),
		"ru": []byte("greeting: \"Привет, %s\"\nmenu:\n  balance: \"Баланс\"\n"),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

func TestCatalogLookup(t *testing.T) {
	c := testCatalog(t)

	tests := []struct {
		locale, key string
		args        []any
		want        string
	}{
		{"en", "greeting", []any{"Bob"}, "Hello, Bob"},
		{"ru", "greeting", []any{"Боб"}, "Привет, Боб"},
		{"ru", "menu.balance", nil, "Баланс"},
		{"ru", "only_en", nil, "fallback"},
		{"de", "menu.balance", nil, "Balance"},
		{"en", "missing.key", nil, "missing.key"},
	}
	for _, tt := range tests {
		if got := c.T(tt.locale, tt.key, tt.args...); got != tt.want {
			t.Errorf("T(%q, %q) = %q, want %q", tt.locale, tt.key, got, tt.want)
		}
	}
}

func TestCatalogForUnknownLocale(t *testing.T) {
	c := testCatalog(t)

	tr := c.For("fr")
	if tr.Locale() != "en" {
		t.Fatalf("For(fr).Locale() = %q, want en", tr.Locale())
	}
	if got := c.For("ru").T("menu.balance"); got != "Баланс" {
		t.Errorf("For(ru).T = %q", got)
	}
}

func TestParseRequiresFallback(t *testing.T) {
	_, err := Parse("en", map[string][]byte{"ru": []byte("a: b\n")})
	if err == nil {
		t.Fatal("expected error when fallback catalog is missing")
	}
}

func TestEmbeddedCatalogsHaveSameKeys(t *testing.T) {
	c, err := Load("en")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(c.Locales(), ","); got != "en,ru" {
		t.Fatalf("Locales() = %q", got)
	}
	for key := range c.messages["en"] {
		if _, ok := c.messages["ru"][key]; !ok {
			t.Errorf("ru: missing key %q", key)
		}
	}
	for key := range c.messages["ru"] {
		if _, ok := c.messages["en"][key]; !ok {
			t.Errorf("en: missing key %q", key)
		}
	}
}
