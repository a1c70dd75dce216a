// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli is the cobra command tree of keymaster-sshd. The root
// command's PersistentPreRunE is the composition root: it loads the
// configuration, opens the audit journal, builds the privileged proxy and
// the service handle, and loads both stores.
package cli
