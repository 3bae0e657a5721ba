package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pathlighthq/pathlight/internal/config"
)

const (
	adminKeyHeader       = "x-api-key"
	adminSignatureHeader = "x-signature"

	// maxAdminBodyBytes caps how much body the guard will buffer for HMAC
	maxAdminBodyBytes = 1 << 20
)

// AdminAuth creates middleware for system-to-system endpoints.
//
// The API key is compared in fixed time. When an HMAC secret is configured,
// the request must also carry an HMAC-SHA256 signature over the exact raw
// body, as hex ("sha256=...") or base64. Every failure mode answers with the
// same 401 body so a caller cannot learn which check failed.
func AdminAuth(logger *slog.Logger, cfg config.AdminConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Configured() {
				// Scoped to the admin surface, the rest of the service keeps working
				writeJSONError(w, http.StatusServiceUnavailable, "admin interface not configured")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBodyBytes))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyAdminRequest(cfg, r.Header.Get(adminKeyHeader), r.Header.Get(adminSignatureHeader), body) {
				logger.Warn("admin authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeJSONError(w, http.StatusUnauthorized, "authentication failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyAdminRequest runs every configured check. Both comparisons operate
// on fixed-length digests so neither value length nor mismatch position leaks.
func verifyAdminRequest(cfg config.AdminConfig, apiKey, signature string, body []byte) bool {
	suppliedKey := sha256.Sum256([]byte(apiKey))
	expectedKey := sha256.Sum256([]byte(cfg.APIKey))
	keyOK := subtle.ConstantTimeCompare(suppliedKey[:], expectedKey[:]) == 1

	if cfg.HMACSecret == "" {
		return keyOK
	}

	mac := hmac.New(sha256.New, []byte(cfg.HMACSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	supplied, ok := decodeSignature(signature)
	if !ok {
		// Still burn the comparison so the miss is not observably faster
		_ = hmac.Equal(expected, expected)
		return false
	}

	return keyOK && hmac.Equal(supplied, expected)
}

// decodeSignature accepts hex with an optional "sha256=" prefix, or base64
func decodeSignature(signature string) ([]byte, bool) {
	if signature == "" {
		return nil, false
	}

	hexPart := strings.TrimPrefix(signature, "sha256=")
	if decoded, err := hex.DecodeString(hexPart); err == nil && len(decoded) == sha256.Size {
		return decoded, true
	}

	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil && len(decoded) == sha256.Size {
		return decoded, true
	}

	return nil, false
}
