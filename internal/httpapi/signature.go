package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "x-inflow-hmac-sha256"

var (
	errNoSecret         = errors.New("webhook secret not configured")
	errMissingSignature = errors.New("missing signature")
	errBadSignature     = errors.New("invalid signature")
)

// Sign returns the header value inFlow would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return errNoSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return errMissingSignature
	}
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errBadSignature
	}
	return nil
}
