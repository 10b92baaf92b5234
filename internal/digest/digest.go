// Package digest implements HTTP Digest authentication (RFC 2617) the
// way camera firmware expects it: MD5, lowercase hex, colon-joined
// fields, qop=auth with an eight-byte client nonce.
package digest

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Challenge holds the fields parsed from one WWW-Authenticate header.
// Ephemeral: consumed by exactly one retry. cnonce and nonce-count are
// generated fresh per request and never reused.
type Challenge struct {
	Realm     string
	Nonce     string
	QOP       string
	Algorithm string
	Opaque    string
}

// ParseChallenge parses a Digest WWW-Authenticate header value
func ParseChallenge(header string) (*Challenge, error) {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) < 7 || !strings.EqualFold(trimmed[:7], "digest ") {
		return nil, fmt.Errorf("not a Digest challenge: %q", header)
	}

	ch := &Challenge{}
	for _, kv := range splitParams(trimmed[7:]) {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[:eq]))
		val := strings.Trim(strings.TrimSpace(kv[eq+1:]), `"`)
		switch key {
		case "realm":
			ch.Realm = val
		case "nonce":
			ch.Nonce = val
		case "qop":
			// Servers may offer "auth,auth-int"; we only speak auth
			for _, q := range strings.Split(val, ",") {
				if strings.TrimSpace(q) == "auth" {
					ch.QOP = "auth"
					break
				}
			}
			if ch.QOP == "" {
				ch.QOP = strings.TrimSpace(strings.Split(val, ",")[0])
			}
		case "algorithm":
			ch.Algorithm = val
		case "opaque":
			ch.Opaque = val
		}
	}

	if ch.Realm == "" || ch.Nonce == "" {
		return nil, fmt.Errorf("digest challenge missing realm or nonce: %q", header)
	}
	if ch.Algorithm == "" {
		ch.Algorithm = "MD5"
	}
	return ch, nil
}

// splitParams splits comma-separated auth params, respecting quotes
func splitParams(s string) []string {
	var parts []string
	var sb strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			sb.WriteByte(c)
		case c == ',' && !inQuotes:
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}
	return parts
}

// Response computes the digest response for a challenge.
//
//	HA1      = MD5(username:realm:password)
//	HA2      = MD5(method:uri)
//	response = MD5(HA1:nonce:nc:cnonce:qop:HA2)    (qop present)
//	response = MD5(HA1:nonce:HA2)                  (legacy, no qop)
func Response(ch *Challenge, username, password, method, uri, cnonce, nc string) string {
	ha1 := md5hex(username + ":" + ch.Realm + ":" + password)
	ha2 := md5hex(method + ":" + uri)
	if ch.QOP == "" {
		return md5hex(ha1 + ":" + ch.Nonce + ":" + ha2)
	}
	return md5hex(strings.Join([]string{ha1, ch.Nonce, nc, cnonce, ch.QOP, ha2}, ":"))
}

// AuthorizationHeader renders the Authorization header for the single
// authenticated retry.
func AuthorizationHeader(ch *Challenge, username, password, method, uri, cnonce, nc string) string {
	response := Response(ch, username, password, method, uri, cnonce, nc)

	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s"`,
		username, ch.Realm, ch.Nonce, uri)
	if ch.QOP != "" {
		fmt.Fprintf(&sb, `, qop=%s, nc=%s, cnonce="%s"`, ch.QOP, nc, cnonce)
	}
	fmt.Fprintf(&sb, `, response="%s", algorithm=%s`, response, ch.Algorithm)
	if ch.Opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, ch.Opaque)
	}
	return sb.String()
}

// NewCnonce generates a fresh 8-byte client nonce in lowercase hex
func NewCnonce() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// a zero cnonce still produces a valid (if weak) exchange
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
