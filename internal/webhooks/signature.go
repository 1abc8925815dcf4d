package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>" on every signed delivery.
const SignatureHeader = "X-Signature"

func mac(secret string, ts int64, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte{'.'})
	m.Write(body)
	return m.Sum(nil)
}

// SignPayload returns the signature header value for body sent at ts.
func SignPayload(secret string, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return "t=" + strconv.FormatInt(unix, 10) + ",v1=" + hex.EncodeToString(mac(secret, unix, body))
}

// VerifyPayload checks a signature header against body. A zero tolerance
// skips the timestamp age check.
func VerifyPayload(secret string, body []byte, header string, now time.Time, tolerance time.Duration) bool {
	var (
		ts  int64
		sig []byte
		err error
	)
	hasTS := false
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return false
		}
		switch k {
		case "t":
			if ts, err = strconv.ParseInt(v, 10, 64); err != nil {
				return false
			}
			hasTS = true
		case "v1":
			if sig, err = hex.DecodeString(v); err != nil {
				return false
			}
		}
	}
	if !hasTS || sig == nil {
		return false
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}
	return hmac.Equal(mac(secret, ts, body), sig)
}
