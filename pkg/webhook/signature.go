package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Sagakit-Signature"
	HeaderTimestamp = "X-Sagakit-Timestamp"
	HeaderDelivery  = "X-Sagakit-Delivery"
)

// Sign returns the hex HMAC-SHA256 of "<unix timestamp>.<payload>".
func Sign(secret string, ts time.Time, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks the signature headers of a received notification.
// A maxAge of zero disables the timestamp window check.
func Verify(secret string, header http.Header, payload []byte, maxAge time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}

	sig := header.Get(HeaderSignature)
	rawTS := header.Get(HeaderTimestamp)
	if sig == "" || rawTS == "" {
		return ErrMissingSignatures
	}
	unix, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, rawTS)
	}
	ts := time.Unix(unix, 0)

	if maxAge > 0 {
		age := now.Sub(ts)
		if age > maxAge {
			return fmt.Errorf("%w: %s old", ErrSignatureExpired, age)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp in the future", ErrInvalidSignature)
		}
	}

	if !hmac.Equal([]byte(Sign(secret, ts, payload)), []byte(sig)) {
		return fmt.Errorf("%w: mismatch", ErrInvalidSignature)
	}
	return nil
}
