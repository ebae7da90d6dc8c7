package webhook

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
)

type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{key: key, tolerance: tolerance, now: time.Now}, nil
}

// Verify checks the Standard Webhooks headers against body. Any v1 entry in
// the space-separated signature list may match.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	msgID := strings.TrimSpace(header.Get(HeaderID))
	timestamp := strings.TrimSpace(header.Get(HeaderTimestamp))
	signatures := strings.TrimSpace(header.Get(HeaderSignature))
	if msgID == "" || timestamp == "" || signatures == "" {
		return ErrMissingHeaders
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
	}
	sentAt := time.Unix(unix, 0)
	if skew := v.now().Sub(sentAt); skew > v.tolerance || skew < -v.tolerance {
		return ErrStaleTimestamp
	}

	expected := computeMAC(v.key, msgID, timestamp, body)
	for _, entry := range strings.Fields(signatures) {
		version, encoded, ok := strings.Cut(entry, ",")
		if !ok || version != signatureV1 {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}
