package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks the HMAC-SHA256 signatures the gateway attaches to payment
// confirmations. The checkout (client-relayed) and webhook channels each use
// their own shared secret.
type Verifier struct {
	keySecret     string
	webhookSecret string
}

func NewVerifier(keySecret, webhookSecret string) *Verifier {
	return &Verifier{keySecret: keySecret, webhookSecret: webhookSecret}
}

// VerifyCheckout recomputes the expected signature over "orderID|paymentID"
// and compares in constant time.
func (v *Verifier) VerifyCheckout(orderID, paymentID, signature string) bool {
	return verify([]byte(orderID+"|"+paymentID), signature, v.keySecret)
}

// VerifyWebhook checks the signature over the raw webhook body.
func (v *Verifier) VerifyWebhook(body []byte, signature string) bool {
	return verify(body, signature, v.webhookSecret)
}

// Sign produces the checkout-channel signature for a (orderID, paymentID)
// pair. Only tests and local tooling need this side.
func (v *Verifier) Sign(orderID, paymentID string) string {
	return sign([]byte(orderID+"|"+paymentID), v.keySecret)
}

// SignWebhook produces the webhook-channel signature over a raw body.
func (v *Verifier) SignWebhook(body []byte) string {
	return sign(body, v.webhookSecret)
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(payload []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(sign(payload, secret))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
