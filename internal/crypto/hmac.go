package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the L2 credentials for HMAC-authenticated requests
// against the CLOB REST API and the authenticated user WebSocket.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, base64-encoded
	Passphrase string // API passphrase
}

// RESTHeaders returns the HTTP headers for an authenticated CLOB REST
// request. The signature is HMAC-SHA256(decoded secret,
// timestamp+method+path+body) encoded as URL-safe base64.
//
// Returned header keys:
//   - POLY_ADDRESS
//   - POLY_API_KEY
//   - POLY_TIMESTAMP
//   - POLY_PASSPHRASE
//   - POLY_SIGNATURE
func (h *HMACAuth) RESTHeaders(address, method, path, body string) map[string]string {
	return h.RESTHeadersAt(address, method, path, body, time.Now().Unix())
}

// RESTHeadersAt is like RESTHeaders but lets the caller supply the Unix
// timestamp, which keeps tests deterministic.
func (h *HMACAuth) RESTHeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := h.sign(ts + method + path + body)

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    h.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": h.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// WSAuth is the authentication payload sent when subscribing to the user
// WebSocket channel.
type WSAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
	Address    string `json:"address"`
	Timestamp  string `json:"timestamp"`
	Signature  string `json:"signature"`
}

// WSUserAuth builds the auth payload for the user channel subscription.
// The signature covers timestamp + "GET" + "/ws/user".
func (h *HMACAuth) WSUserAuth(address string) WSAuth {
	return h.WSUserAuthAt(address, time.Now().Unix())
}

// WSUserAuthAt is like WSUserAuth with a caller-supplied Unix timestamp.
func (h *HMACAuth) WSUserAuthAt(address string, unixTS int64) WSAuth {
	ts := strconv.FormatInt(unixTS, 10)
	return WSAuth{
		APIKey:     h.Key,
		Secret:     h.Secret,
		Passphrase: h.Passphrase,
		Address:    address,
		Timestamp:  ts,
		Signature:  h.sign(ts + "GET" + "/ws/user"),
	}
}

// sign computes HMAC-SHA256 over message using the base64-decoded secret
// and returns the result as URL-safe base64. A secret that fails to
// decode is used raw so the caller sees a rejected signature rather than
// a panic.
func (h *HMACAuth) sign(message string) string {
	secretBytes, err := base64.URLEncoding.DecodeString(h.Secret)
	if err != nil {
		secretBytes = []byte(h.Secret)
	}
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
