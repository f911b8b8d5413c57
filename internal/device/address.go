package device

import (
	"fmt"
	"strings"
)

// NormalizeAddress renders a device address in the canonical form used as
// identity: '-' separators become ':' and hex digits are lowercased.
// Addresses that differ only in separator or case normalize identically.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(addr), "-", ":"))
}

// IsMAC reports whether addr, once normalized, is a six-octet colon
// separated MAC that is not all zeros.
func IsMAC(addr string) bool {
	parts := strings.Split(NormalizeAddress(addr), ":")
	if len(parts) != 6 {
		return false
	}

	zero := true
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return false
		}
		if p != "00" {
			zero = false
		}
	}
	return !zero
}

// FormatMAC renders six bytes, most significant first, as a normalized address.
func FormatMAC(b []byte) (string, error) {
	if len(b) != 6 {
		return "", fmt.Errorf("mac address needs 6 bytes, got %d", len(b))
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5]), nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}
