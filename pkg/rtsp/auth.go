package rtsp

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Credentials are the RTSP username/password a device was configured
// with; Bambu printers use the username "bblp" with the access code as
// the password.
type Credentials struct {
	Username string
	Password string
}

// Authenticator produces an Authorization header value for an RTSP
// request, starting with Basic and upgrading to Digest once the server
// challenges with a 401 WWW-Authenticate header.
type Authenticator struct {
	creds      Credentials
	digest     *digestChallenge
	nonceCount uint32
	cnonce     string
}

// NewAuthenticator returns an authenticator that starts out using Basic
// auth; call UpdateChallenge after a 401 to switch it to Digest.
func NewAuthenticator(creds Credentials) *Authenticator {
	a := &Authenticator{creds: creds}
	a.resetCnonce()
	return a
}

// UpdateChallenge parses a WWW-Authenticate header value. It returns
// false (leaving the authenticator unchanged) if the value isn't a
// Digest challenge this implementation understands.
func (a *Authenticator) UpdateChallenge(headerValue string) bool {
	challenge, ok := parseDigestChallenge(headerValue)
	if !ok {
		return false
	}
	a.digest = challenge
	a.nonceCount = 0
	a.resetCnonce()
	return true
}

// AuthorizationHeader returns the full "Authorization: ..." header value
// for a request with the given method and request-URI.
func (a *Authenticator) AuthorizationHeader(method, uri string) string {
	if a.digest != nil {
		return a.digestAuthorization(method, uri, a.digest)
	}
	return a.basicAuthorization()
}

func (a *Authenticator) basicAuthorization() string {
	raw := a.creds.Username + ":" + a.creds.Password
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	return "Basic " + encoded
}

func (a *Authenticator) digestAuthorization(method, uri string, challenge *digestChallenge) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", a.creds.Username, challenge.realm, a.creds.Password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	var header strings.Builder
	if challenge.qop != "" {
		a.nonceCount++
		nc := fmt.Sprintf("%08x", a.nonceCount)
		response := md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, challenge.nonce, nc, a.cnonce, challenge.qop, ha2))
		fmt.Fprintf(&header, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", qop=%s, nc=%s, cnonce="%s"`,
			a.creds.Username, challenge.realm, challenge.nonce, uri, response, challenge.qop, nc, a.cnonce)
	} else {
		response := md5Hex(fmt.Sprintf("%s:%s:%s", ha1, challenge.nonce, ha2))
		fmt.Fprintf(&header, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
			a.creds.Username, challenge.realm, challenge.nonce, uri, response)
	}
	if challenge.opaque != "" {
		fmt.Fprintf(&header, `, opaque="%s"`, challenge.opaque)
	}
	if challenge.algorithm != "" {
		fmt.Fprintf(&header, `, algorithm=%s`, challenge.algorithm)
	}
	return header.String()
}

func (a *Authenticator) resetCnonce() {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; a
		// fixed cnonce still produces a valid (if less unique)
		// digest response rather than panicking mid-session.
		a.cnonce = "0000000000000000000000000000000"
		return
	}
	a.cnonce = hex.EncodeToString(buf[:])
}

type digestChallenge struct {
	realm, nonce, qop, algorithm, opaque string
}

func parseDigestChallenge(headerValue string) (*digestChallenge, bool) {
	if !strings.HasPrefix(strings.ToLower(headerValue), "digest") {
		return nil, false
	}
	params := strings.TrimSpace(headerValue[len("digest"):])
	parsed := parseAuthParameters(params)

	realm, ok := parsed["realm"]
	if !ok {
		return nil, false
	}
	nonce, ok := parsed["nonce"]
	if !ok {
		return nil, false
	}

	qop := ""
	if raw, ok := parsed["qop"]; ok {
		qop = raw
		for _, item := range strings.Split(raw, ",") {
			if strings.TrimSpace(item) == "auth" {
				qop = "auth"
				break
			}
		}
	}

	return &digestChallenge{
		realm:     realm,
		nonce:     nonce,
		qop:       qop,
		algorithm: parsed["algorithm"],
		opaque:    parsed["opaque"],
	}, true
}

// parseAuthParameters splits a comma-separated key=value (optionally
// quoted) parameter list, respecting commas inside quoted values.
func parseAuthParameters(params string) map[string]string {
	result := make(map[string]string)
	var current strings.Builder
	inQuotes := false

	consume := func() {
		trimmed := strings.TrimSpace(current.String())
		current.Reset()
		if trimmed == "" {
			return
		}
		kv := strings.SplitN(trimmed, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if key == "" {
			return
		}
		value := ""
		if len(kv) == 2 {
			value = strings.TrimSpace(kv[1])
		}
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}
		result[key] = value
	}

	for _, ch := range params {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteRune(ch)
		case ch == ',' && !inQuotes:
			consume()
		default:
			current.WriteRune(ch)
		}
	}
	consume()
	return result
}

func md5Hex(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
