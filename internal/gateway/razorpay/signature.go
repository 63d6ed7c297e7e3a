package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignaturePayload is the string the gateway signs after a subscription checkout.
func PaymentSignaturePayload(subscriptionID, paymentID string) []byte {
	return []byte(strings.TrimSpace(paymentID) + "|" + strings.TrimSpace(subscriptionID))
}

func verify(secret string, payload []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}
