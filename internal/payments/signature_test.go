package payments

import "testing"

func TestVerifyCheckout(t *testing.T) {
	v := NewVerifier("key-secret", "hook-secret")

	sig := v.Sign("order_123", "pay_456")
	if !v.VerifyCheckout("order_123", "pay_456", sig) {
		t.Fatalf("expected valid signature to verify")
	}
	if v.VerifyCheckout("order_123", "pay_457", sig) {
		t.Fatalf("signature must bind to the payment id")
	}
	if v.VerifyCheckout("order_124", "pay_456", sig) {
		t.Fatalf("signature must bind to the order id")
	}
	if v.VerifyCheckout("order_123", "pay_456", "") {
		t.Fatalf("empty signature must not verify")
	}
}

func TestVerifyCheckout_WrongSecret(t *testing.T) {
	a := NewVerifier("secret-a", "hook")
	b := NewVerifier("secret-b", "hook")
	sig := a.Sign("order_1", "pay_1")
	if b.VerifyCheckout("order_1", "pay_1", sig) {
		t.Fatalf("signature from another secret must not verify")
	}
}

func TestVerifyWebhook(t *testing.T) {
	v := NewVerifier("key-secret", "hook-secret")
	body := []byte(`{"event":"payment.captured","payload":{}}`)

	sig := v.SignWebhook(body)
	if !v.VerifyWebhook(body, sig) {
		t.Fatalf("expected valid webhook signature to verify")
	}
	if v.VerifyWebhook([]byte(`{"event":"payment.captured"}`), sig) {
		t.Fatalf("signature must bind to the exact body bytes")
	}
	// checkout and webhook channels use different secrets
	if v.VerifyWebhook(body, v.Sign("order", "pay")) {
		t.Fatalf("checkout signature must not pass webhook verification")
	}
}
