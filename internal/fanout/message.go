package fanout

import (
	"bytes"
	"encoding/json"
	"fmt"

	"audiocontrold/internal/player"
)

// WelcomeText is sent to every client right after it connects.
const WelcomeText = "Connected to audiocontrold WebSocket API"

// Encode renders ev as a feed message: the event fields flattened together
// with a "source" object. Volume events carry a null source.
func Encode(ev player.Event) ([]byte, error) {
	msg := player.Fields(ev)
	if src, ok := player.EventSource(ev); ok {
		msg["source"] = src
	} else {
		msg["source"] = nil
	}
	return json.Marshal(msg)
}

// Welcome is the greeting for a freshly registered client.
func Welcome(clientID uint64) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":      "welcome",
		"client_id": clientID,
		"message":   WelcomeText,
	})
	return b
}

// SubscriptionUpdated acknowledges a subscription change.
func SubscriptionUpdated() []byte {
	b, _ := json.Marshal(map[string]any{
		"type":    "subscription_updated",
		"message": "Subscription updated successfully",
	})
	return b
}

// ErrorMessage reports a client protocol error.
func ErrorMessage(err error) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":    "error",
		"message": fmt.Sprintf("Invalid message format: %v. Expected EventSubscription.", err),
	})
	return b
}

// ParseSubscription decodes a subscription update. Unknown fields and
// non-object payloads are rejected so a typo never silently widens a filter.
func ParseSubscription(data []byte) (Subscription, error) {
	var sub Subscription
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return Subscription{}, fmt.Errorf("subscription must be an object")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		return Subscription{}, err
	}
	if dec.More() {
		return Subscription{}, fmt.Errorf("trailing data after subscription")
	}
	return sub, nil
}
