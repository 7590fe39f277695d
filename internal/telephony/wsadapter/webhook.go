package wsadapter

import (
	"context"
	"encoding/json"
	"fmt"
)

// webhookPayload is the out-of-band event vocabulary providers push over
// HTTP, next to the media stream.
type webhookPayload struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

// HandleWebhook consumes a verified provider webhook. Media and call setup
// run over the WebSocket leg, so only out-of-band lifecycle events matter
// here: a hangup notice ends the leg, everything else is logged and
// dropped.
func (a *Adapter) HandleWebhook(_ context.Context, provider string, body []byte) error {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("wsadapter: parse %s webhook: %w", provider, err)
	}

	switch payload.Event {
	case "call.ended", "call.hangup":
		if c, ok := a.lookup(payload.CallID); ok {
			reason := payload.Reason
			if reason == "" {
				reason = "provider hangup"
			}
			a.endCall(c, reason)
		}
	default:
		a.log.Debug("wsadapter: webhook event ignored",
			"provider", provider,
			"event", payload.Event,
			"call_id", payload.CallID,
		)
	}
	return nil
}
