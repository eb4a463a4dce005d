// Package i18n хранит каталог переводов с явной передачей языка.
// Глобального «текущего языка» нет: каждый вызов получает locale.
//
// Каталоги: YAML-файлы в locales/, вшитые в бинарник.
// Вложенные ключи разворачиваются через точку: menu.my_balance.
// Аргументы подставляются позиционно через %s.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localesFS embed.FS

// Catalog хранит все переводы. После создания только читается.
type Catalog struct {
	fallback string
	messages map[string]map[string]string // locale → key → шаблон
}

// Load загружает встроенные каталоги. fallback: язык по умолчанию.
func Load(fallback string) (*Catalog, error) {
	entries, err := localesFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать каталоги: %w", err)
	}

	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := localesFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("каталог %s: %w", e.Name(), err)
		}
		files[strings.TrimSuffix(e.Name(), ".yaml")] = data
	}
	return Parse(fallback, files)
}

// Parse собирает каталог из YAML-документов вида locale → содержимое.
func Parse(fallback string, files map[string][]byte) (*Catalog, error) {
	c := &Catalog{
		fallback: fallback,
		messages: make(map[string]map[string]string, len(files)),
	}
	for locale, data := range files {
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("каталог %s: %w", locale, err)
		}
		flat := make(map[string]string)
		flatten("", tree, flat)
		c.messages[locale] = flat
	}
	if _, ok := c.messages[fallback]; !ok {
		return nil, fmt.Errorf("нет каталога для языка по умолчанию %q", fallback)
	}
	return c, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// T возвращает перевод key на языке locale с подстановкой args.
// Порядок поиска: locale → язык по умолчанию → сам ключ.
func (c *Catalog) T(locale, key string, args ...any) string {
	tmpl, ok := c.messages[locale][key]
	if !ok {
		tmpl, ok = c.messages[c.fallback][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Has сообщает, поддерживается ли язык.
func (c *Catalog) Has(locale string) bool {
	_, ok := c.messages[locale]
	return ok
}

// Locales возвращает поддерживаемые языки в алфавитном порядке.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.messages))
	for l := range c.messages {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Fallback возвращает язык по умолчанию.
func (c *Catalog) Fallback() string {
	return c.fallback
}

// For возвращает функцию перевода, привязанную к языку.
func (c *Catalog) For(locale string) Translator {
	if !c.Has(locale) {
		locale = c.fallback
	}
	return Translator{catalog: c, locale: locale}
}

// Translator: перевод для одного языка. Передаётся по значению.
type Translator struct {
	catalog *Catalog
	locale  string
}

// T переводит key на язык переводчика.
func (t Translator) T(key string, args ...any) string {
	return t.catalog.T(t.locale, key, args...)
}

// Locale возвращает язык переводчика.
func (t Translator) Locale() string {
	return t.locale
}
