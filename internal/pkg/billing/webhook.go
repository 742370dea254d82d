package billing

import (
	"errors"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrWebhookAuth covers every fail-closed rejection of an inbound webhook:
// missing configured secret, missing signature header or a signature that
// does not verify. The caller responds with a client error and performs no
// further work.
var ErrWebhookAuth = errors.New("billing: webhook authentication failed")

// VerifyWebhook authenticates a raw webhook body against the provider
// signature header and decodes the event envelope. The API version mismatch
// check is relaxed because payload decoding uses local minimal structs.
func VerifyWebhook(payload []byte, sigHeader, secret string) (*stripelib.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrWebhookAuth
	}
	if strings.TrimSpace(sigHeader) == "" {
		return nil, ErrWebhookAuth
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, ErrWebhookAuth
	}
	return &event, nil
}
