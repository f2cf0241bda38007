package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// AccountHashPrefix prefixes formatted account hashes.
const AccountHashPrefix = "account-hash-"

// KnownAccount maps an account hash to the public key that owns it.
type KnownAccount struct {
	Hash      string
	PublicKey string
}

// AccountHashFromPublicKey derives the formatted account hash of a tagged
// public key hex (01 = ed25519, 02 = secp256k1).
func AccountHashFromPublicKey(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) < 2 {
		return "", fmt.Errorf("public key too short: %d bytes", len(raw))
	}

	var algo string
	switch raw[0] {
	case 0x01:
		algo = "ed25519"
		if len(raw) != 33 {
			return "", fmt.Errorf("ed25519 key must be 32 bytes, got %d", len(raw)-1)
		}
	case 0x02:
		algo = "secp256k1"
		if len(raw) != 34 {
			return "", fmt.Errorf("secp256k1 key must be 33 bytes, got %d", len(raw)-1)
		}
	default:
		return "", fmt.Errorf("unknown key tag %#x", raw[0])
	}

	preimage := make([]byte, 0, len(algo)+1+len(raw)-1)
	preimage = append(preimage, algo...)
	preimage = append(preimage, 0x00)
	preimage = append(preimage, raw[1:]...)
	sum := blake2b.Sum256(preimage)

	return AccountHashPrefix + hex.EncodeToString(sum[:]), nil
}

// NormalizeAccountHash lower-cases a hash and adds the account-hash prefix when missing.
func NormalizeAccountHash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || strings.HasPrefix(s, AccountHashPrefix) {
		return s
	}
	return AccountHashPrefix + s
}
