package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// sign computes the v2 REST signature: the parameters sorted by key, joined
// as k=v&..., HMAC-SHA256 with the API secret, hex encoded.
func sign(secret string, params map[string]string) string {
	var b strings.Builder
	for i, k := range slices.Sorted(maps.Keys(params)) {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return hmacHex(secret, b.String())
}

// streamSignature signs the realtime auth challenge.
func streamSignature(secret string, expires int64) string {
	return hmacHex(secret, "GET/realtime"+strconv.FormatInt(expires, 10))
}

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
