package signature

import (
	"crypto/hmac"
	"crypto/md5" // #nosec G501 -- body_md5 is a wire-protocol digest, not a security primitive.
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AuthVersion is the only request signing version accepted.
const AuthVersion = "1.0"

// DefaultMaxSkew bounds |now - auth_timestamp| for signed requests.
const DefaultMaxSkew = 600 * time.Second

// HMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// BodyMD5Hex returns the hex MD5 digest of body.
func BodyMD5Hex(body []byte) string {
	sum := md5.Sum(body) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// ChannelStringToSign returns the channel authorization payload.
// channelData is only appended for presence channels (non-empty).
func ChannelStringToSign(socketID, channel, channelData string) string {
	s := socketID + ":" + channel
	if channelData != "" {
		s += ":" + channelData
	}
	return s
}

// ChannelAuth signs a subscription the way an app backend's auth endpoint does.
func ChannelAuth(key, secret, socketID, channel, channelData string) string {
	return key + ":" + HMACSHA256Hex(ChannelStringToSign(socketID, channel, channelData), []byte(secret))
}

// VerifyChannelAuth checks an auth token supplied with pusher:subscribe.
func VerifyChannelAuth(key, secret, auth, socketID, channel, channelData string) error {
	gotKey, sig, ok := strings.Cut(auth, ":")
	if !ok || sig == "" {
		return ErrMalformedAuth
	}
	if !Equal(gotKey, key) {
		return ErrKeyMismatch
	}
	want := HMACSHA256Hex(ChannelStringToSign(socketID, channel, channelData), []byte(secret))
	if !Equal(strings.ToLower(sig), want) {
		return ErrSignatureMismatch
	}
	return nil
}

// RequestStringToSign returns METHOD\nPATH\nQUERY where QUERY holds every
// parameter except auth_signature, keys lowercased and sorted, values unescaped.
func RequestStringToSign(method, path string, query url.Values) string {
	keys := make([]string, 0, len(query))
	lowered := make(map[string]string, len(query))
	for k := range query {
		lk := strings.ToLower(k)
		if lk == "auth_signature" {
			continue
		}
		keys = append(keys, lk)
		lowered[lk] = query.Get(k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+lowered[k])
	}
	return strings.ToUpper(method) + "\n" + path + "\n" + strings.Join(pairs, "&")
}

// SignRequest fills the auth_* parameters of query and returns it.
// body_md5 is only added for non-empty bodies.
func SignRequest(key, secret, method, path string, query url.Values, body []byte, now time.Time) url.Values {
	if query == nil {
		query = url.Values{}
	}
	query.Set("auth_key", key)
	query.Set("auth_timestamp", strconv.FormatInt(now.Unix(), 10))
	query.Set("auth_version", AuthVersion)
	if len(body) > 0 {
		query.Set("body_md5", BodyMD5Hex(body))
	}
	query.Del("auth_signature")
	query.Set("auth_signature", HMACSHA256Hex(RequestStringToSign(method, path, query), []byte(secret)))
	return query
}

// Request is the part of an HTTP request covered by the signature.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// VerifyRequest checks a signed HTTP API request.
// maxSkew <= 0 uses DefaultMaxSkew.
func VerifyRequest(key, secret string, r Request, now time.Time, maxSkew time.Duration) error {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	for _, p := range []string{"auth_key", "auth_timestamp", "auth_signature"} {
		if r.Query.Get(p) == "" {
			return fmt.Errorf("%w: %s", ErrMissingParam, p)
		}
	}
	if v := r.Query.Get("auth_version"); v != "" && v != AuthVersion {
		return ErrUnsupportedVer
	}
	if !Equal(r.Query.Get("auth_key"), key) {
		return ErrKeyMismatch
	}

	ts, err := strconv.ParseInt(r.Query.Get("auth_timestamp"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: auth_timestamp", ErrMalformedAuth)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
		return ErrTimestampSkew
	}

	if len(r.Body) > 0 {
		got := r.Query.Get("body_md5")
		if got == "" {
			return fmt.Errorf("%w: body_md5", ErrMissingParam)
		}
		if !Equal(strings.ToLower(got), BodyMD5Hex(r.Body)) {
			return ErrBodyDigest
		}
	}

	want := HMACSHA256Hex(RequestStringToSign(r.Method, r.Path, r.Query), []byte(secret))
	if !Equal(strings.ToLower(r.Query.Get("auth_signature")), want) {
		return ErrSignatureMismatch
	}
	return nil
}
