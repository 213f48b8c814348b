package genesis

import (
	"fmt"
	"strings"

	"agora/crypto"
)

// ParseAccount decodes a user account address. Module addresses are rejected
// because no key can sign for them.
func ParseAccount(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, fmt.Errorf("decode account: %w", err)
	}
	if decoded.Prefix() != crypto.AccountPrefix {
		return out, fmt.Errorf("decode account: %s is a module address", addr)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}
