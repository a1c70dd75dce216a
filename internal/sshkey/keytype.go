// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

// KeyType is the algorithm token of an authorized_keys line.
type KeyType string

// Known key types. KeyTypeUnknown is returned for every other token.
const (
	KeyTypeRSA        KeyType = "ssh-rsa"
	KeyTypeDSS        KeyType = "ssh-dss"
	KeyTypeEd25519    KeyType = "ssh-ed25519"
	KeyTypeECDSA256   KeyType = "ecdsa-sha2-nistp256"
	KeyTypeECDSA384   KeyType = "ecdsa-sha2-nistp384"
	KeyTypeECDSA521   KeyType = "ecdsa-sha2-nistp521"
	KeyTypeSKEd25519  KeyType = "sk-ssh-ed25519@openssh.com"
	KeyTypeSKECDSA256 KeyType = "sk-ecdsa-sha2-nistp256@openssh.com"
	KeyTypeUnknown    KeyType = "unknown"
)

var knownKeyTypes = map[string]KeyType{
	string(KeyTypeRSA):        KeyTypeRSA,
	string(KeyTypeDSS):        KeyTypeDSS,
	string(KeyTypeEd25519):    KeyTypeEd25519,
	string(KeyTypeECDSA256):   KeyTypeECDSA256,
	string(KeyTypeECDSA384):   KeyTypeECDSA384,
	string(KeyTypeECDSA521):   KeyTypeECDSA521,
	string(KeyTypeSKEd25519):  KeyTypeSKEd25519,
	string(KeyTypeSKECDSA256): KeyTypeSKECDSA256,
}

// ParseKeyType resolves an algorithm token. Unrecognised tokens resolve to
// KeyTypeUnknown.
func ParseKeyType(token string) KeyType {
	if kt, ok := knownKeyTypes[token]; ok {
		return kt
	}
	return KeyTypeUnknown
}

// Known reports whether kt is one of the enumerated algorithms.
func (kt KeyType) Known() bool {
	_, ok := knownKeyTypes[string(kt)]
	return ok
}

// String returns the algorithm token.
func (kt KeyType) String() string {
	return string(kt)
}
