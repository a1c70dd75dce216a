// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshdconfig

import (
	"maps"
	"slices"
	"strings"
)

// HostKeyDirective is the directive kept as an ordered list.
const HostKeyDirective = "HostKey"

// Parse reads config file content. Blank lines, comments and lines with a
// single token are skipped. HostKey values are returned in file order; all
// other directives map to their remaining tokens joined by single spaces.
func Parse(data []byte) (directives map[string]string, hostKeys []string) {
	directives = make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == HostKeyDirective {
			hostKeys = append(hostKeys, fields[1])
			continue
		}
		directives[fields[0]] = strings.Join(fields[1:], " ")
	}
	return directives, hostKeys
}

// Serialize renders host keys first, in order, then the directives sorted by
// name. Every line ends with a newline.
func Serialize(directives map[string]string, hostKeys []string) []byte {
	var b strings.Builder
	for _, hk := range hostKeys {
		b.WriteString(HostKeyDirective + " " + hk + "\n")
	}
	for _, key := range slices.Sorted(maps.Keys(directives)) {
		b.WriteString(key + " " + directives[key] + "\n")
	}
	return []byte(b.String())
}

// fillDefaults adds every default that is not already present.
func fillDefaults(directives, defaults map[string]string) int {
	added := 0
	for key, value := range defaults {
		if _, ok := directives[key]; ok {
			continue
		}
		directives[key] = value
		added++
	}
	return added
}
