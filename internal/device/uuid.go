package device

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the compact form used for lookups:
// lowercase, no dashes, braces or 0x prefix. UUIDs in the Bluetooth SIG base
// (0000xxxx-0000-1000-8000-00805f9b34fb) collapse to their 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.Trim(u, "{}")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes every element of uuids.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, NormalizeUUID(u))
	}
	return out
}

// SameUUID reports whether a and b name the same UUID.
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}
