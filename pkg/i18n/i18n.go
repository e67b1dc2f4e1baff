// Package i18n holds the widget's user-facing strings for English and
// German.
package i18n

import (
	_ "embed"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	English = "en"
	German  = "de"

	// SwarovskiTheme switches the default language to German and the
	// sending placeholder to the rotating thinking messages.
	SwarovskiTheme = "swarovski"
)

const (
	KeyWelcomeMessage     = "welcomeMessage"
	KeyPlaceholder        = "placeholder"
	KeyPlaceholderSending = "placeholderSending"
	KeyOnlineMessage      = "onlineMessage"
	KeyOfflineMessage     = "offlineMessage"
	KeyWindowTitle        = "windowTitle"
	KeyNewSessionConfirm  = "newSessionConfirm"
	KeyNewSessionTitle    = "newSessionTitle"
	KeyConfirmButton      = "confirmButton"
	KeyCancelButton       = "cancelButton"
)

//go:embed translations.yaml
var embedded []byte

type Catalog struct {
	Languages map[string]map[string]string `yaml:"languages"`
	Thinking  []map[string]string          `yaml:"thinking"`
}

// Parse reads a catalog in the translations.yaml format.
func Parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "parse translations")
	}
	if _, ok := c.Languages[English]; !ok {
		return nil, errors.New("translations: missing english table")
	}
	return &c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(embedded)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// T looks key up in lang, falling back to English and then to the key.
func (c *Catalog) T(lang, key string) string {
	if c == nil {
		return key
	}
	if s, ok := c.Languages[lang][key]; ok {
		return s
	}
	if s, ok := c.Languages[English][key]; ok {
		return s
	}
	return key
}

func (c *Catalog) Supported() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Languages))
	for l := range c.Languages {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Supports(lang string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Languages[lang]
	return ok
}

// ThinkingMessage returns the i-th rotating placeholder, wrapping around.
func (c *Catalog) ThinkingMessage(lang string, i int) string {
	if c == nil || len(c.Thinking) == 0 {
		return c.T(lang, KeyPlaceholderSending)
	}
	if i < 0 {
		i = -i
	}
	entry := c.Thinking[i%len(c.Thinking)]
	if s, ok := entry[lang]; ok {
		return s
	}
	return entry[English]
}

// SendingPlaceholder is the input placeholder shown while a reply is pending.
func (c *Catalog) SendingPlaceholder(lang, theme string, tick int) string {
	if strings.EqualFold(theme, SwarovskiTheme) {
		return c.ThinkingMessage(lang, tick)
	}
	return c.T(lang, KeyPlaceholderSending)
}

// DefaultLanguage picks the widget language: an explicit choice wins, the
// swarovski theme defaults to German, anything else to English.
func DefaultLanguage(explicit, theme string) string {
	if l := normalizeTag(explicit); l != "" {
		return l
	}
	if strings.EqualFold(theme, SwarovskiTheme) {
		return German
	}
	return English
}

// normalizeTag turns "de_AT.UTF-8" or "de-AT" into "de".
func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "_-.@"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}
