package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// TokenPrefix is the literal prefix of every API-key token.
const TokenPrefix = "mcp_"

// ParsedKey is the result of decomposing an API-key token.
type ParsedKey struct {
	ID     int64
	HasID  bool
	Secret string
}

// EncodeKeyToken builds the wire form of an API-key token: mcp_{id}.{secret}.
func EncodeKeyToken(id int64, secret string) string {
	return fmt.Sprintf("%s%d.%s", TokenPrefix, id, secret)
}

// ParseKeyToken decomposes an API-key token. It returns false if the token
// does not carry the mcp_ prefix.
//
// The remainder after the prefix is split at the first dot: when the part
// before the dot parses as an integer it is the record id and the rest is the
// secret. When it does not parse, or when there is no dot at all, the entire
// remainder (dots included) is treated as an opaque legacy secret with no id.
func ParseKeyToken(token string) (ParsedKey, bool) {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok || rest == "" {
		return ParsedKey{}, false
	}

	if idPart, secret, found := strings.Cut(rest, "."); found {
		if id, err := strconv.ParseInt(idPart, 10, 64); err == nil {
			return ParsedKey{ID: id, HasID: true, Secret: secret}, true
		}
	}
	return ParsedKey{Secret: rest}, true
}

// KeyDigest computes the server-keyed HMAC-SHA256 fingerprint of a key's
// secret portion, hex encoded. Deterministic under a fixed server secret, and
// not reproducible without it, so a leaked key_hmac column cannot be turned
// into a precomputed dictionary. Returns "" when no server secret is
// available; callers treat that as "no digest" rather than a failure.
func KeyDigest(serverSecret []byte, secret string) string {
	if len(serverSecret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, serverSecret)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
