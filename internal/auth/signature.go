// AK/SK request signature verification.
//
// Partners sign every northbound request with a per-tenant secret key:
//
//	X-Signature = hex(HMAC-SHA256(secret_key, access_key \n timestamp \n body))
//
// The canonical string joins its fields with a newline so adjacent fields can
// never be confused (an access key "ak1" with timestamp "7..." is distinct
// from "ak17" with timestamp "..."). The timestamp window is checked before
// any HMAC computation: rejecting stale requests is cheap and bounds replay
// exposure to the window size.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Request headers carrying the AK/SK signature material. Lookup through
// http.Header is case-insensitive.
const (
	HeaderAccessKey = "X-Access-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// SignatureDelimiter separates the fields of the canonical signing string.
const SignatureDelimiter = "\n"

// DefaultSignatureWindow bounds |now - X-Timestamp| when no window is
// configured.
const DefaultSignatureWindow = 300 * time.Second

// Credential is a provisioned partner AK/SK pair and the tenant it belongs
// to. The verifier never mutates credentials.
type Credential struct {
	TenantID  string
	AccessKey string
	SecretKey string
}

// CredentialSource resolves a presented access key to its provisioned
// credential. ok=false means the key is not provisioned; err is reserved for
// lookup infrastructure failures and must not be conflated with absence.
type CredentialSource interface {
	Lookup(ctx context.Context, accessKey string) (cred Credential, ok bool, err error)
}

// StaticCredentials is a CredentialSource over an in-memory set, as
// provisioned from configuration.
type StaticCredentials map[string]Credential

// NewStaticCredentials indexes the provisioned pairs by access key.
func NewStaticCredentials(creds []Credential) StaticCredentials {
	m := make(StaticCredentials, len(creds))
	for _, c := range creds {
		m[c.AccessKey] = c
	}
	return m
}

// Lookup implements CredentialSource.
func (s StaticCredentials) Lookup(_ context.Context, accessKey string) (Credential, bool, error) {
	c, ok := s[accessKey]
	return c, ok, nil
}

// SignatureVerifier validates AK/SK-signed requests. It is stateless apart
// from the credential source and safe for unbounded concurrent use.
type SignatureVerifier struct {
	Creds  CredentialSource
	Window time.Duration

	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

// Sign computes the signature a well-behaved partner client would attach for
// the given credential, timestamp, and body. Exposed for client SDKs and
// tests.
func Sign(secretKey, accessKey, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(accessKey))
	mac.Write([]byte(SignatureDelimiter))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(SignatureDelimiter))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the three signature headers against the request body.
//
// Order of checks, failing fast and cheap-first:
//  1. all three headers present, else MissingCredential (no store access);
//  2. timestamp parses as epoch seconds, else InvalidTimestamp;
//  3. |now - timestamp| within the window, else SignatureExpired;
//  4. access key resolves to a provisioned credential;
//  5. constant-time digest comparison.
//
// An unprovisioned access key and a wrong digest both yield
// SignatureInvalid: the caller cannot tell which part was at fault.
func (v *SignatureVerifier) Verify(ctx context.Context, headers http.Header, body []byte) (Credential, *Error) {
	accessKey := headers.Get(HeaderAccessKey)
	timestamp := headers.Get(HeaderTimestamp)
	signature := headers.Get(HeaderSignature)
	if accessKey == "" || timestamp == "" || signature == "" {
		return Credential{}, newError(CodeMissingCredential, "missing signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Credential{}, newError(CodeInvalidTimestamp, "timestamp must be epoch seconds")
	}

	window := v.Window
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(window.Seconds()) {
		return Credential{}, newError(CodeSignatureExpired, "signature timestamp outside allowed window")
	}

	cred, ok, err := v.Creds.Lookup(ctx, accessKey)
	if err != nil {
		return Credential{}, wrapError(CodeStoreError, "credential lookup failed", err)
	}
	if !ok {
		return Credential{}, newError(CodeSignatureInvalid, "signature verification failed")
	}

	presented, err := hex.DecodeString(signature)
	if err != nil {
		return Credential{}, newError(CodeSignatureInvalid, "signature verification failed")
	}
	mac := hmac.New(sha256.New, []byte(cred.SecretKey))
	mac.Write([]byte(cred.AccessKey))
	mac.Write([]byte(SignatureDelimiter))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(SignatureDelimiter))
	mac.Write(body)
	if !hmac.Equal(presented, mac.Sum(nil)) {
		return Credential{}, newError(CodeSignatureInvalid, "signature verification failed")
	}

	return cred, nil
}
