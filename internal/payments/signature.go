package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stripe-style webhook signatures: the header carries a unix timestamp and
// one or more HMAC-SHA256 digests of "<timestamp>.<raw body>". Verification
// must run against the untouched request bytes; re-serializing the parsed
// payload changes the byte stream and breaks the digest.

const signatureTolerance = 5 * time.Minute

// Sign builds a signature header for the given payload. Used by tests and
// by anyone simulating provider deliveries.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := computeMAC(payload, secret, ts)
	return fmt.Sprintf("t=%d,v1=%s", ts, mac)
}

func VerifySignature(payload []byte, header, secret string) error {
	return verifySignatureAt(payload, header, secret, time.Now())
}

func verifySignatureAt(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignature)
	}

	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrSignature)
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed signature header", ErrSignature)
	}

	if d := now.Sub(time.Unix(ts, 0)); d > signatureTolerance || d < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrSignature)
	}

	expected := computeMAC(payload, secret, ts)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: digest mismatch", ErrSignature)
}

func computeMAC(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
