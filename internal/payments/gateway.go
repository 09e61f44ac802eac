package payments

import "context"

// Gateway abstracts the external payment provider. The engine only needs
// order creation; captures are confirmed back to us through signed
// client-relayed and webhook channels, never by polling the provider.
type Gateway interface {
	// CreateOrder opens an order for amount in minor units and returns the
	// provider's order id. notes travel with the order for reconciliation.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error)

	// KeyID returns the public key id the client needs to open checkout.
	KeyID() string
}
