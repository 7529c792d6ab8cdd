package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// uidSeparators are dropped from tag ids before decoding.
var uidSeparators = strings.NewReplacer(":", "", " ", "", "-", "")

// ParseUID normalizes a tag id such as "04abcdef" or "04-AB-CD-EF" to the
// colon separated form "04:AB:CD:EF".
func ParseUID(uid string) (string, error) {
	raw, err := hex.DecodeString(uidSeparators.Replace(uid))
	if err != nil {
		return "", fmt.Errorf("invalid tag id %q: %w", uid, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty tag id")
	}
	return FormatUID(raw), nil
}

// FormatUID renders raw id bytes as colon separated uppercase hex.
func FormatUID(raw []byte) string {
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
