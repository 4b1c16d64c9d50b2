package webhook

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignatureRoundTrip(t *testing.T) {
	v := NewSignatureValidator("secret", 5*time.Minute)
	body := []byte(`{"payout_ref":"cw_1","status":"SUCCESS"}`)
	now := time.Now()

	sig := v.Sign(body, now)
	assert.NoError(t, v.Validate(body, sig, strconv.FormatInt(now.Unix(), 10)))
}

func TestSignatureRejections(t *testing.T) {
	v := NewSignatureValidator("secret", 5*time.Minute)
	body := []byte(`{"status":"SUCCESS"}`)
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := v.Sign(body, now)

	assert.Error(t, v.Validate(body, "", ts))
	assert.Error(t, v.Validate(body, sig, "abc"))
	assert.Error(t, v.Validate([]byte(`{"status":"FAILED"}`), sig, ts), "tampered body")

	old := now.Add(-10 * time.Minute)
	assert.Error(t, v.Validate(body, v.Sign(body, old), strconv.FormatInt(old.Unix(), 10)), "stale timestamp")

	other := NewSignatureValidator("other", 5*time.Minute)
	assert.Error(t, v.Validate(body, other.Sign(body, now), ts))

	assert.Error(t, NewSignatureValidator("", 0).Validate(body, sig, ts))
}
