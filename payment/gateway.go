// Package payment talks to the external settlement system. The service only
// sees the Gateway interface.
package payment

import "context"

type Status string

// StatusSucceeded is the only status that may finalize a cart.
const StatusSucceeded Status = "succeeded"

// Metadata correlates an intent with the cart that requested it.
type Metadata struct {
	CartID  string
	OwnerID string
}

const (
	metaCartID  = "cart_id"
	metaOwnerID = "owner_id"
)

func (m Metadata) Map() map[string]string {
	return map[string]string{metaCartID: m.CartID, metaOwnerID: m.OwnerID}
}

func MetadataFromMap(m map[string]string) Metadata {
	return Metadata{CartID: m[metaCartID], OwnerID: m[metaOwnerID]}
}

type IntentRequest struct {
	Amount         int64 // minor units
	Currency       string
	Metadata       Metadata
	IdempotencyKey string
}

type Intent struct {
	Reference    string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	Metadata     Metadata
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Retrieve(ctx context.Context, reference string) (Intent, error)
}
