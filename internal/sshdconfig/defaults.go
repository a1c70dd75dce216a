// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshdconfig

// Default locations on a stock OpenSSH installation.
const (
	DefaultConfigPath         = "/etc/ssh/sshd_config"
	DefaultAuthorizedKeysPath = "/etc/ssh/authorized_keys"
	DefaultRSAHostKeyPath     = "/etc/ssh/ssh_host_rsa_key"
	DefaultDSAHostKeyPath     = "/etc/ssh/ssh_host_dsa_key"
)

// AuthorizedKeysDirective names the authorized keys file.
const AuthorizedKeysDirective = "AuthorizedKeysFile"

// DefaultDirectives returns a fresh copy of the default directive table.
func DefaultDirectives(authorizedKeysPath string) map[string]string {
	if authorizedKeysPath == "" {
		authorizedKeysPath = DefaultAuthorizedKeysPath
	}
	return map[string]string{
		AuthorizedKeysDirective:        authorizedKeysPath,
		"Port":                         "22",
		"PermitRootLogin":              "prohibit-password",
		"PubkeyAuthentication":         "yes",
		"PasswordAuthentication":       "no",
		"KbdInteractiveAuthentication": "no",
		"PrintMotd":                    "no",
		"Subsystem":                    "sftp internal-sftp",
	}
}

// DefaultHostKeys returns the host keys used when a file declares none.
func DefaultHostKeys() []string {
	return []string{DefaultRSAHostKeyPath, DefaultDSAHostKeyPath}
}
