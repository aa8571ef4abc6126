// Package billing receives lifecycle events from the billing provider and
// applies subscription changes to stored entitlements.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned for a body that is not a JSON event envelope.
var ErrMalformed = errors.New("billing: malformed event")

// Event types dispatched by the intake.
const (
	EventTransactionCompleted = "transaction.completed"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventCustomerCreated      = "customer.created"
)

// Event is the provider's notification envelope. OccurredAt is kept as sent.
type Event struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ParseEvent decodes an envelope. Any JSON object parses; unknown event types
// are the dispatcher's concern.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}

// Subscription is the subset of a subscription payload the intake reads.
type Subscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	Items                []Item         `json:"items"`
	CurrentBillingPeriod *Period        `json:"current_billing_period"`
	CanceledAt           string         `json:"canceled_at"`
}

// Item is one line of a subscription.
type Item struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

// Period is a billing interval.
type Period struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

// UserID returns the application user id carried in custom data, which
// checkout sets as user_id or userId.
func (s Subscription) UserID() string {
	return customUserID(s.CustomData)
}

// PriceID returns the first item's price id.
func (s Subscription) PriceID() string {
	if len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].Price.ID
}

// Transaction is the subset of a transaction payload that is logged.
type Transaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
}

// Customer is the subset of a customer payload that is logged.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func customUserID(data map[string]any) string {
	for _, key := range []string{"user_id", "userId"} {
		if v, ok := data[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
