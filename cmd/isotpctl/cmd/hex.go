package cmd

import (
	"encoding/hex"
	"fmt"
)

// parseHexPayload accepts a bare hex string, with or without a "0x" prefix,
// and rejects anything that won't fit in a single reassembled ISO 15765
// message (spec.md §8 property 1: up to 4095 payload bytes).
func parseHexPayload(s string) ([]byte, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", s, err)
	}
	if len(b) > 4095 {
		return nil, fmt.Errorf("payload of %d bytes exceeds the 4095-byte maximum", len(b))
	}
	return b, nil
}
