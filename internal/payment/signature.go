package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PaymentSignature is the hex HMAC-SHA256 of "{gatewayOrderID}|{paymentID}" under secret,
// as sent by the checkout widget after a successful payment
func PaymentSignature(secret, gatewayOrderID, paymentID string) string {
	return hex.EncodeToString(sign(secret, []byte(gatewayOrderID+"|"+paymentID)))
}

// WebhookSignature is the hex HMAC-SHA256 of the raw webhook body under the webhook secret
func WebhookSignature(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

// VerifyPaymentSignature checks a checkout signature in constant time
func VerifyPaymentSignature(secret, gatewayOrderID, paymentID, signature string) bool {
	return verify(sign(secret, []byte(gatewayOrderID+"|"+paymentID)), signature)
}

// VerifyWebhookSignature checks the signature header of a webhook in constant time
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	return verify(sign(secret, body), signature)
}

func sign(secret string, data []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}

func verify(expected []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) != len(expected) {
		return false
	}
	return hmac.Equal(provided, expected)
}
