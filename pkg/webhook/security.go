package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureValidator validates webhook signatures using HMAC-SHA256. The
// signed message is "<unix timestamp>.<raw body>" so a captured body cannot
// be replayed with a fresh timestamp.
type SignatureValidator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSignatureValidator creates a validator. maxAge bounds how old a
// timestamp may be; zero disables the age check.
func NewSignatureValidator(secret string, maxAge time.Duration) *SignatureValidator {
	return &SignatureValidator{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Validate checks the signature header against the timestamp header and payload.
func (v *SignatureValidator) Validate(payload []byte, signature, timestamp string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("webhook secret not configured")
	}
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil || ts <= 0 {
		return fmt.Errorf("invalid timestamp")
	}
	if err := v.validateTimestamp(ts); err != nil {
		return err
	}

	signature = strings.TrimPrefix(signature, "sha256=")
	expected := v.compute(payload, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func (v *SignatureValidator) validateTimestamp(ts int64) error {
	if v.maxAge <= 0 {
		return nil
	}
	sent := time.Unix(ts, 0)
	now := v.now()
	// allow a little clock skew in the sender's favour
	if sent.After(now.Add(30 * time.Second)) {
		return fmt.Errorf("timestamp is in the future")
	}
	if now.Sub(sent) > v.maxAge {
		return fmt.Errorf("timestamp is too old")
	}
	return nil
}

func (v *SignatureValidator) compute(payload []byte, ts int64) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign produces the signature header value for payload at ts. Used by the
// payout rail simulator and tests.
func (v *SignatureValidator) Sign(payload []byte, ts time.Time) string {
	return "sha256=" + v.compute(payload, ts.Unix())
}
