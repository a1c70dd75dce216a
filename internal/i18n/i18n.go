// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n translates user-facing CLI and TUI text. Messages live in
// embedded YAML files, one per locale.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
	available map[string]string
)

// Init loads every embedded locale and selects lang. Unknown languages fall
// back to English.
func Init(lang string) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	avail := make(map[string]string)
	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile(path.Join("locales", f.Name()))
		if err != nil {
			continue
		}
		if _, err := b.ParseMessageFileBytes(data, f.Name()); err != nil {
			continue
		}
		code := strings.TrimSuffix(f.Name(), path.Ext(f.Name()))
		avail[code] = displayName(code)
	}

	if _, ok := avail[lang]; !ok {
		lang = "en"
	}

	mu.Lock()
	defer mu.Unlock()
	bundle = b
	localizer = i18n.NewLocalizer(b, lang)
	current = lang
	available = avail
}

// displayName returns the language's own name for itself.
func displayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return code
}

// SetLang changes the active language.
func SetLang(lang string) {
	Init(lang)
}

// GetLang returns the active language code.
func GetLang() string {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// GetAvailableLocales maps locale codes to display names.
func GetAvailableLocales() map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]string, len(available))
	for k, v := range available {
		out[k] = v
	}
	return out
}

// T translates messageID. A single map argument is used as template data;
// any other arguments are applied to the message with fmt.Sprintf. Unknown
// IDs are returned unchanged.
func T(messageID string, args ...any) string {
	mu.RLock()
	l := localizer
	mu.RUnlock()
	if l == nil {
		Init("en")
		mu.RLock()
		l = localizer
		mu.RUnlock()
	}

	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(args) == 1 {
		if data, ok := args[0].(map[string]any); ok {
			cfg.TemplateData = data
			args = nil
		}
	}
	msg, err := l.Localize(cfg)
	if err != nil {
		return messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
