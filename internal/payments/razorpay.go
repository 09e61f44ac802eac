package payments

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayGateway wraps the razorpay-go client behind the Gateway interface.
type RazorpayGateway struct {
	client *razorpay.Client
	keyID  string
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret), keyID: keyID}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		n := make(map[string]interface{}, len(notes))
		for k, v := range notes {
			n[k] = v
		}
		data["notes"] = n
	}
	order, err := g.client.Order.Create(data, nil)
	if err != nil {
		return "", err
	}
	id, ok := order["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("razorpay order response missing id")
	}
	return id, nil
}

func (g *RazorpayGateway) KeyID() string { return g.keyID }
