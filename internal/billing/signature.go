package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "ts=<unix>;h1=<hex hmac>".
const SignatureHeader = "Paddle-Signature"

// SignatureTolerance is how far a signed timestamp may drift from now.
const SignatureTolerance = 5 * time.Minute

// ErrInvalidSignature is returned when a signature is missing, malformed, stale or wrong.
var ErrInvalidSignature = errors.New("billing: invalid signature")

// VerifySignature checks header against an HMAC-SHA256 of "ts:body" keyed by
// secret and rejects timestamps more than SignatureTolerance away from now.
func VerifySignature(header string, body []byte, secret string, now time.Time) error {
	if header == "" || secret == "" {
		return ErrInvalidSignature
	}

	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "h1":
			h1 = value
		}
	}
	if ts == "" || h1 == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(h1)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, mac(ts, body, secret)) {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > SignatureTolerance || skew < -SignatureTolerance {
		return fmt.Errorf("%w: timestamp %s outside tolerance", ErrInvalidSignature, ts)
	}
	return nil
}

// Sign produces a signature header for body at ts.
func Sign(body []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "ts=" + unix + ";h1=" + hex.EncodeToString(mac(unix, body, secret))
}

func mac(ts string, body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte(":"))
	h.Write(body)
	return h.Sum(nil)
}
