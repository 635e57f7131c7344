// Package sign implements the request-authentication primitives shared by the
// exchange adapters: keyed MACs, deterministic query canonicalization, and
// timestamp/nonce construction.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of payload.
func HMACSHA256Hex(secret, payload string) string {
	return hex.EncodeToString(hmacSum(sha256.New, []byte(secret), payload))
}

// HMACSHA256Base64 returns the base64 HMAC-SHA256 of payload.
func HMACSHA256Base64(secret, payload string) string {
	return base64.StdEncoding.EncodeToString(hmacSum(sha256.New, []byte(secret), payload))
}

// HMACSHA512Hex returns the lowercase hex HMAC-SHA512 of payload.
func HMACSHA512Hex(secret, payload string) string {
	return hex.EncodeToString(hmacSum(sha512.New, []byte(secret), payload))
}

// HMACSHA512Base64Raw computes HMAC-SHA512 with a raw byte secret, for venues
// that distribute base64-encoded secrets (Kraken, Coinbase).
func HMACSHA512Base64Raw(secret []byte, payload []byte) string {
	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Base64Raw computes HMAC-SHA256 with a raw byte secret.
func HMACSHA256Base64Raw(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SHA512Hex returns the lowercase hex SHA-512 digest of payload, used for
// body hashing in Gate.io-style signatures.
func SHA512Hex(payload string) string {
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func hmacSum(h func() hash.Hash, secret []byte, payload string) []byte {
	mac := hmac.New(h, secret)
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// CanonicalQuery serializes parameters with stable key ordering and standard
// percent-encoding. The same parameter set always serializes identically, so
// the signature the adapter computes matches what the server recomputes.
func CanonicalQuery(params url.Values) string {
	// url.Values.Encode sorts by key; values keep insertion order.
	return params.Encode()
}

// SortedConcat joins parameters as key=value pairs without percent-encoding,
// for venues that sign the raw concatenation (crypto.com).
func SortedConcat(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}
	return sb.String()
}

// TimestampMS renders the clock as a millisecond epoch string.
func TimestampMS(clock func() time.Time) string {
	return strconv.FormatInt(clock().UTC().UnixMilli(), 10)
}

// TimestampS renders the clock as a second epoch string.
func TimestampS(clock func() time.Time) string {
	return strconv.FormatInt(clock().UTC().Unix(), 10)
}

// TimestampISO renders the clock in the RFC3339 millisecond form used by
// OKX-style signatures.
func TimestampISO(clock func() time.Time) string {
	return clock().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Nonce returns a strictly increasing nonce derived from the clock.
func Nonce(clock func() time.Time) string {
	return strconv.FormatInt(clock().UTC().UnixNano()/int64(time.Millisecond), 10)
}
