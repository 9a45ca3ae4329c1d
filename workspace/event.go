// Package workspace defines the event and item model for the workspace
// mutation engine: the typed event envelope, the item schema the events
// mutate, and the deterministic replay fold that materializes a workspace's
// current item list from its append-only log.
package workspace

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of mutation an event records.
type EventType string

const (
	EventItemCreated      EventType = "ITEM_CREATED"
	EventBulkItemsCreated EventType = "BULK_ITEMS_CREATED"
	EventItemUpdated      EventType = "ITEM_UPDATED"
	EventItemDeleted      EventType = "ITEM_DELETED"
)

// Event is one immutable record of an accepted mutation. Ordering within a
// workspace is the append order; there is no cross-workspace ordering.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp int64     `json:"timestamp"` // epoch millis
	UserID    string    `json:"userId"`
}

// Payload is the closed set of type-specific event bodies. Each EventType
// maps to exactly one concrete payload type.
type Payload interface {
	isPayload()
}

// ItemCreated carries the full new item.
type ItemCreated struct {
	Item Item `json:"item"`
}

// BulkItemsCreated carries a batch of new items appended as one event.
type BulkItemsCreated struct {
	Items []Item `json:"items"`
}

// ItemUpdated carries the net change for one item: a partial patch merged
// onto prior state during replay. The patch is always the full new value of
// every touched field, never a delta-of-a-delta, so a single replay step is
// sufficient and idempotent.
type ItemUpdated struct {
	ItemID  string    `json:"itemId"`
	Changes ItemPatch `json:"changes"`
}

// ItemDeleted removes an item. There is no tombstone beyond the event itself.
type ItemDeleted struct {
	ItemID string `json:"itemId"`
}

func (ItemCreated) isPayload()      {}
func (BulkItemsCreated) isPayload() {}
func (ItemUpdated) isPayload()      {}
func (ItemDeleted) isPayload()      {}

// eventEnvelope is the wire form of Event with the payload held raw so the
// concrete type can be chosen from the Type tag.
type eventEnvelope struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId"`
}

// UnmarshalJSON decodes the envelope and then the payload according to the
// event's type tag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	payload, err := DecodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}

	e.ID = env.ID
	e.Type = env.Type
	e.Payload = payload
	e.Timestamp = env.Timestamp
	e.UserID = env.UserID
	return nil
}

// DecodePayload decodes a raw payload into the concrete type for the given
// event type.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("event payload is empty for type %q", t)
	}

	switch t {
	case EventItemCreated:
		var p ItemCreated
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
		}
		return p, nil
	case EventBulkItemsCreated:
		var p BulkItemsCreated
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
		}
		return p, nil
	case EventItemUpdated:
		var p ItemUpdated
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
		}
		return p, nil
	case EventItemDeleted:
		var p ItemDeleted
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
