package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pathlighthq/pathlight/internal/models"
)

// ErrInvalidSignature indicates a webhook delivery that failed authentication.
// The endpoint answers 400 and nothing else happens.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// signatureTolerance bounds how old a signed timestamp may be, limiting replay
const signatureTolerance = 5 * time.Minute

// EventType identifies the provider event kinds the reconciler acts on
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Event is one parsed webhook delivery
type Event struct {
	ID      string
	Type    EventType
	Created time.Time
	Data    EventData
}

// EventData carries the fields the reconciler needs, normalized across the
// different payload object shapes.
type EventData struct {
	// SubscriptionID is the provider subscription reference. For
	// subscription events it is the object id itself; for checkout and
	// invoice events it is the subscription field on the object.
	SubscriptionID string

	// CustomerID is the provider customer reference
	CustomerID string

	// AccountID is our account id, carried in object metadata or the
	// checkout client reference. Empty when the provider object was
	// created outside our flow.
	AccountID string

	// Status is the subscription status, present on subscription events
	Status models.SubscriptionStatus
}

// rawEvent mirrors the provider envelope
type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object rawObject `json:"object"`
	} `json:"data"`
}

// rawObject is the union of the object fields across event kinds
type rawObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
}

// verifySignatureHeader checks the "t=<unix>,v1=<hex>" header against the
// payload. The signed message is "<t>.<payload>" so neither part can be
// swapped independently.
func verifySignatureHeader(payload []byte, header, secret string, now time.Time) error {
	var timestamp int64
	var signatures [][]byte

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil || len(sig) != sha256.Size {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	eventTime := time.Unix(timestamp, 0)
	if now.Sub(eventTime) > signatureTolerance || eventTime.Sub(now) > signatureTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// parseEvent decodes a verified payload into the normalized Event shape.
// Unknown event types parse fine; the dispatcher ignores them.
func parseEvent(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("webhook payload missing id or type")
	}

	event := &Event{
		ID:      raw.ID,
		Type:    EventType(raw.Type),
		Created: time.Unix(raw.Created, 0).UTC(),
		Data: EventData{
			CustomerID: raw.Data.Object.Customer,
			AccountID:  accountIDFromObject(raw.Data.Object),
			Status:     models.SubscriptionStatus(raw.Data.Object.Status),
		},
	}

	switch event.Type {
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		event.Data.SubscriptionID = raw.Data.Object.ID
	default:
		event.Data.SubscriptionID = raw.Data.Object.Subscription
	}

	return event, nil
}

// accountIDFromObject prefers explicit metadata over the checkout reference
func accountIDFromObject(obj rawObject) string {
	if id := obj.Metadata["account_id"]; id != "" {
		return id
	}
	return obj.ClientReferenceID
}
