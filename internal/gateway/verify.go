package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the QStash callback signature. Header lookup is
// case-insensitive per net/http.
const SignatureHeader = "Upstash-Signature"

// SignatureError marks an authentication failure on an inbound callback.
// The HTTP layer maps it to 401.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "callback signature: " + e.Reason
}

// VerifyCallback checks that an inbound callback request genuinely came from
// QStash. The signature is an HS256 JWT over the request URL and a digest of
// the raw body.
//
// Verification is a no-op when explicitly disabled or when no signing key is
// configured. The latter is deliberately permissive so local development
// works without queue credentials; production deployments must set
// QSTASH_CURRENT_SIGNING_KEY.
//
// Because the server usually sits behind a reverse proxy that rewrites host
// and scheme, the URL is reconstructed from forwarded headers; QStash signed
// the publicly routable URL, not the one this process observes.
func (g *Gateway) VerifyCallback(r *http.Request, rawBody []byte) error {
	if g.cfg.VerifyDisabled {
		return nil
	}
	if g.cfg.CurrentSigningKey == "" {
		return nil
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return &SignatureError{Reason: "missing " + SignatureHeader + " header"}
	}

	reqURL := reconstructURL(r)

	err := verifyWithKey(sig, rawBody, reqURL, g.cfg.CurrentSigningKey)
	if err != nil && g.cfg.NextSigningKey != "" {
		// Key rotation: the queue may already sign with the next key.
		err = verifyWithKey(sig, rawBody, reqURL, g.cfg.NextSigningKey)
	}
	if err != nil {
		return &SignatureError{Reason: err.Error()}
	}
	return nil
}

func verifyWithKey(signature string, body []byte, reqURL, key string) error {
	token, err := jwt.Parse(signature,
		func(t *jwt.Token) (any, error) { return []byte(key), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("Upstash"),
	)
	if err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("unexpected claims type %T", token.Claims)
	}

	sub, _ := claims["sub"].(string)
	if sub != reqURL {
		return fmt.Errorf("url mismatch: token signed for %q, request is %q", sub, reqURL)
	}

	bodyClaim, _ := claims["body"].(string)
	sum := sha256.Sum256(body)
	want := base64.URLEncoding.EncodeToString(sum[:])
	// Tolerate padded vs unpadded encodings of the digest.
	if subtle.ConstantTimeCompare(
		[]byte(strings.TrimRight(bodyClaim, "=")),
		[]byte(strings.TrimRight(want, "=")),
	) != 1 {
		return fmt.Errorf("body digest mismatch")
	}

	return nil
}

// reconstructURL rebuilds the externally visible request URL, preferring
// X-Forwarded-Proto / X-Forwarded-Host / X-Forwarded-Port over what the
// request itself reports.
func reconstructURL(r *http.Request) string {
	pathQS := r.URL.RequestURI()

	proto := r.Header.Get("X-Forwarded-Proto")
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	port := r.Header.Get("X-Forwarded-Port")

	if proto != "" && host != "" {
		if port != "" && port != "80" && port != "443" && !strings.Contains(host, ":") {
			host = host + ":" + port
		}
		return proto + "://" + host + pathQS
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + pathQS
}
