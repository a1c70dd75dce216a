// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshdconfig

import (
	"path"
	"strings"

	"github.com/toeirei/keymaster-sshd/internal/privileged"
)

const heredocMarker = "KEYMASTER_SSHD_EOF"

// BootstrapScript returns a script that writes baseline to configPath when
// the file does not exist yet and then prints the file.
func BootstrapScript(configPath string, baseline []byte) string {
	p := privileged.Quote(configPath)
	var b strings.Builder
	b.WriteString("set -e\n")
	b.WriteString("if [ ! -f " + p + " ]; then\n")
	b.WriteString("  mkdir -p " + privileged.Quote(path.Dir(configPath)) + "\n")
	b.WriteString("  cat > " + p + " <<'" + heredocMarker + "'\n")
	b.Write(baseline)
	if len(baseline) > 0 && baseline[len(baseline)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString(heredocMarker + "\n")
	b.WriteString("fi\n")
	b.WriteString("cat -- " + p + "\n")
	return b.String()
}
