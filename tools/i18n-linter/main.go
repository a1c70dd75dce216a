// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every message ID passed to i18n.T exists in the
// English catalogue, that every other locale carries the same IDs, and
// reports IDs nothing uses any more.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const primaryLocale = "en.yaml"

var usedKeyRe = regexp.MustCompile(`i18n\.T\("([^"]+)"`)

// report collects the findings of one run.
type report struct {
	Undefined map[string][]string // id -> files using it
	Orphaned  []string
	Missing   map[string][]string // locale file -> ids
}

func (r report) failed() bool {
	return len(r.Undefined) > 0 || len(r.Missing) > 0
}

func main() {
	root := flag.String("root", ".", "module root to scan")
	locales := flag.String("locales", "internal/i18n/locales", "locale directory, relative to root")
	flag.Parse()

	r, err := lint(*root, filepath.Join(*root, *locales))
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}
	printReport(os.Stdout, r)
	if r.failed() {
		os.Exit(1)
	}
}

func lint(root, localeDir string) (report, error) {
	r := report{Undefined: map[string][]string{}, Missing: map[string][]string{}}

	used, err := findUsedKeys(root)
	if err != nil {
		return r, err
	}
	primary, err := loadKeys(filepath.Join(localeDir, primaryLocale))
	if err != nil {
		return r, fmt.Errorf("primary locale: %w", err)
	}

	for id, files := range used {
		if _, ok := primary[id]; !ok {
			r.Undefined[id] = files
		}
	}
	for id := range primary {
		if _, ok := used[id]; !ok {
			r.Orphaned = append(r.Orphaned, id)
		}
	}
	slices.Sort(r.Orphaned)

	files, err := filepath.Glob(filepath.Join(localeDir, "*.yaml"))
	if err != nil {
		return r, err
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		keys, err := loadKeys(file)
		if err != nil {
			return r, err
		}
		var missing []string
		for id := range primary {
			if _, ok := keys[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			r.Missing[filepath.Base(file)] = missing
		}
	}
	return r, nil
}

// findUsedKeys maps every i18n.T message ID in non-test Go files below root
// to the files using it. Directories the go tool ignores are skipped.
func findUsedKeys(root string) (map[string][]string, error) {
	used := map[string][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "tools" || name == "testdata" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range usedKeyRe.FindAllStringSubmatch(string(content), -1) {
			if !slices.Contains(used[m[1]], path) {
				used[m[1]] = append(used[m[1]], path)
			}
		}
		return nil
	})
	return used, err
}

// loadKeys reads a flat id: text catalogue.
func loadKeys(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var messages map[string]string
	if err := yaml.Unmarshal(content, &messages); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	keys := make(map[string]struct{}, len(messages))
	for id := range messages {
		keys[id] = struct{}{}
	}
	return keys, nil
}

func printReport(w io.Writer, r report) {
	ids := make([]string, 0, len(r.Undefined))
	for id := range r.Undefined {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "undefined: %s (used in %s)\n", id, strings.Join(r.Undefined[id], ", "))
	}
	locales := make([]string, 0, len(r.Missing))
	for l := range r.Missing {
		locales = append(locales, l)
	}
	slices.Sort(locales)
	for _, l := range locales {
		for _, id := range r.Missing[l] {
			fmt.Fprintf(w, "missing in %s: %s\n", l, id)
		}
	}
	for _, id := range r.Orphaned {
		fmt.Fprintf(w, "orphaned: %s\n", id)
	}
	if !r.failed() && len(r.Orphaned) == 0 {
		fmt.Fprintln(w, "all translation files are consistent")
	}
}
