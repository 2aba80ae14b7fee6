package hash

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes32Strict decodes a hex string (with or without 0x prefix) and
// requires exactly 32 bytes. Order hashes and secret commitments on the wire
// are 32-byte values; anything else is a malformed submission.
func HexToBytes32Strict(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return out, fmt.Errorf("hex must have even length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b) // copy into fixed array
	return out, nil
}

// ValidOrderHash reports whether s is a well-formed 32-byte hex order hash.
func ValidOrderHash(s string) bool {
	_, err := HexToBytes32Strict(s)
	return err == nil
}

// ValidSecret reports whether s is a well-formed hex secret. Secrets are
// 32-byte preimages, same wire shape as the commitment hash.
func ValidSecret(s string) bool {
	_, err := HexToBytes32Strict(s)
	return err == nil
}
