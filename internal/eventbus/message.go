/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/google/uuid"
)

// envelope is the wire format shared by the Redis and NATS buses.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &msg, nil
}
