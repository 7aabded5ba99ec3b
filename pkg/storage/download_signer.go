package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Download token errors.
var (
	ErrTokenMalformed = errors.New("malformed download token")
	ErrTokenSignature = errors.New("download token signature mismatch")
	ErrTokenExpired   = errors.New("download token expired")
)

// DownloadSigner mints and verifies HMAC-signed download tokens for stored
// exports. A token binds the export ID, the stored path and an expiry.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewDownloadSigner constructs a signer. A non-positive TTL defaults to 24h.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl}
}

// Sign returns a download token for the export and its stored path.
func (s *DownloadSigner) Sign(exportID, relPath string) (string, time.Time, error) {
	if exportID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("export ID and path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{exportID, expiry, encodedPath, s.signature(exportID, expiry, encodedPath)}, ".")
	return token, expiresAt, nil
}

// Verify checks the token signature and expiry and returns the export ID
// and stored path it references.
func (s *DownloadSigner) Verify(token string) (exportID, relPath string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", ErrTokenMalformed
	}
	exportID, expiry, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.signature(exportID, expiry, encodedPath)), []byte(signature)) {
		return "", "", ErrTokenSignature
	}

	expUnix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return "", "", ErrTokenMalformed
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", "", ErrTokenExpired
	}

	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return "", "", ErrTokenMalformed
	}
	return exportID, string(rawPath), nil
}

func (s *DownloadSigner) signature(exportID, expiry, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%s", exportID, expiry, encodedPath)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
