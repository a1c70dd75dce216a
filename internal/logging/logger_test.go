// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"bytes"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// TestLoggingHelpers_WriteToBuffer verifies the package helper functions write
// formatted messages to the package-level logger `L`.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")

	out := buf.String()
	for _, want := range []string{"hello dbg", "info 1", "warn", "err E"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output; got: %s", want, out)
		}
	}
}

func TestSetDebug_TogglesDebugOutput(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	defer func() { L = prev }()
	SetOutput(&buf)

	SetDebug(false)
	Debugf("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug output emitted while disabled: %s", buf.String())
	}

	SetDebug(true)
	Debugf("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug output missing while enabled: %s", buf.String())
	}
}
