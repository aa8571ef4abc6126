package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
)

// ErrNoUser is returned for a subscription without an application user id.
var ErrNoUser = errors.New("billing: subscription has no user id")

// Dispatch results, used as metric labels.
const (
	ResultHandled   = "handled"
	ResultIgnored   = "ignored"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// EntitlementStore persists entitlements derived from subscription events.
type EntitlementStore interface {
	UpsertEntitlement(ctx context.Context, e entitlement.Entitlement) error
}

// EventLog records processed event ids. RecordBillingEvent reports whether
// the id was seen for the first time. ForgetBillingEvent removes an id whose
// handler failed so a redelivery is applied.
type EventLog interface {
	RecordBillingEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
	ForgetBillingEvent(ctx context.Context, eventID string) error
}

// IntakeConfig holds the intake's collaborators. Store and Events may be nil,
// in which case events are logged and acknowledged only.
type IntakeConfig struct {
	Store   EntitlementStore
	Events  EventLog
	Catalog *entitlement.Catalog
	Metrics *metrics.PrometheusMetrics
	Logger  zerolog.Logger
}

// Intake routes billing events to their handlers.
type Intake struct {
	store   EntitlementStore
	events  EventLog
	catalog *entitlement.Catalog
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewIntake creates an event intake.
func NewIntake(cfg IntakeConfig) *Intake {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = entitlement.DefaultCatalog()
	}
	return &Intake{
		store:   cfg.Store,
		events:  cfg.Events,
		catalog: catalog,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "billing_intake").Logger(),
		now:     time.Now,
	}
}

// Dispatch applies ev and returns the dispatch result. A replayed event id is
// acknowledged without being applied again. The error, if any, is for logging:
// callers still acknowledge the event.
func (in *Intake) Dispatch(ctx context.Context, ev Event) (string, error) {
	log := in.logger.With().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("occurred_at", ev.OccurredAt).
		Logger()
	log.Info().Msg("billing event received")

	recorded := false
	if in.events != nil && ev.EventID != "" {
		fresh, err := in.events.RecordBillingEvent(ctx, ev.EventID, ev.EventType, ev.Data)
		if err != nil {
			in.metrics.RecordWebhookEvent(ev.EventType, ResultFailed)
			return ResultFailed, fmt.Errorf("record event %s: %w", ev.EventID, err)
		}
		if !fresh {
			log.Info().Msg("billing event already processed")
			in.metrics.RecordWebhookEvent(ev.EventType, ResultDuplicate)
			return ResultDuplicate, nil
		}
		recorded = true
	}

	handled, err := in.route(ctx, ev, log)
	result := ResultHandled
	switch {
	case err != nil:
		result = ResultFailed
		log.Error().Err(err).Msg("billing event handler failed")
	case !handled:
		result = ResultIgnored
	}
	if result == ResultFailed && recorded {
		if ferr := in.events.ForgetBillingEvent(ctx, ev.EventID); ferr != nil {
			log.Error().Err(ferr).Msg("failed billing event stays recorded")
		}
	}
	in.metrics.RecordWebhookEvent(ev.EventType, result)
	return result, err
}

func (in *Intake) route(ctx context.Context, ev Event, log zerolog.Logger) (bool, error) {
	switch ev.EventType {
	case EventTransactionCompleted:
		var tx Transaction
		if err := decode(ev, &tx); err != nil {
			return true, err
		}
		log.Info().
			Str("transaction_id", tx.ID).
			Str("subscription_id", tx.SubscriptionID).
			Str("user_id", customUserID(tx.CustomData)).
			Msg("transaction completed")
		return true, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub Subscription
		if err := decode(ev, &sub); err != nil {
			return true, err
		}
		return true, in.applySubscription(ctx, ev, sub, entitlement.NormalizeStatus(sub.Status), log)

	case EventSubscriptionCanceled:
		var sub Subscription
		if err := decode(ev, &sub); err != nil {
			return true, err
		}
		return true, in.applySubscription(ctx, ev, sub, entitlement.StatusCanceled, log)

	case EventCustomerCreated:
		var c Customer
		if err := decode(ev, &c); err != nil {
			return true, err
		}
		log.Info().Str("customer_id", c.ID).Msg("customer created")
		return true, nil
	}

	log.Info().Msg("unhandled billing event type")
	return false, nil
}

func (in *Intake) applySubscription(ctx context.Context, ev Event, sub Subscription, status entitlement.Status, log zerolog.Logger) error {
	userID := sub.UserID()
	if userID == "" {
		return fmt.Errorf("%w: %s", ErrNoUser, sub.ID)
	}
	info, ok := in.catalog.PlanByPriceID(sub.PriceID())
	if !ok {
		return fmt.Errorf("subscription %s: %w: price %q", sub.ID, entitlement.ErrUnknownPlan, sub.PriceID())
	}

	meta := map[string]any{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
		"price_id":        sub.PriceID(),
		"event_id":        ev.EventID,
	}
	if sub.CurrentBillingPeriod != nil && sub.CurrentBillingPeriod.EndsAt != "" {
		meta["current_period_end"] = sub.CurrentBillingPeriod.EndsAt
	}
	if sub.CanceledAt != "" {
		meta["canceled_at"] = sub.CanceledAt
	}

	e := entitlement.Entitlement{
		UserID:    userID,
		Plan:      info.Key,
		Status:    status,
		Provider:  entitlement.DefaultProvider,
		Meta:      meta,
		UpdatedAt: in.occurredAt(ev),
	}

	if in.store == nil {
		log.Warn().Str("user_id", userID).Msg("no entitlement store configured, subscription change not persisted")
		return nil
	}
	if err := in.store.UpsertEntitlement(ctx, e); err != nil {
		return fmt.Errorf("upsert entitlement for %s: %w", userID, err)
	}
	log.Info().
		Str("user_id", userID).
		Str("plan", string(e.Plan)).
		Str("status", string(e.Status)).
		Msg("entitlement updated")
	return nil
}

// occurredAt is the provider's event time, so a late delivery of an older
// event loses against the stored newer state. Receipt time is the fallback.
func (in *Intake) occurredAt(ev Event) time.Time {
	if ev.OccurredAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.OccurredAt); err == nil {
			return t.UTC()
		}
	}
	return in.now().UTC()
}

func decode(ev Event, v any) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("%s: empty data", ev.EventType)
	}
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	return nil
}
