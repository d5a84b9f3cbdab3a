package push

import (
	"encoding/json"
	"net/http"

	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/store"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
)

const defaultTTL = 60 // seconds the push service may retain an undelivered message

// Dispatcher delivers events to disconnected users over web push. Delivery
// is best effort: failures are logged and counted, never retried, and an
// endpoint the push service reports gone is pruned.
type Dispatcher struct {
	store      *store.Store
	publicKey  string
	privateKey string
	subscriber string
}

func NewDispatcher(st *store.Store, publicKey, privateKey, subscriber string) *Dispatcher {
	return &Dispatcher{
		store:      st,
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
	}
}

// Subscribe registers a browser push endpoint for the user.
func (d *Dispatcher) Subscribe(userID string, sub models.PushSubscription) error {
	return d.store.SavePushSubscription(userID, sub)
}

// payload is the compact notification body handed to the service worker.
// Full message content deliberately stays out of the push channel.
type payload struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversationId,omitempty"`
	FromUserID     string `json:"fromUserId,omitempty"`
	CallType       string `json:"callType,omitempty"`
}

// Notify fans an event out to all of the user's registered endpoints.
func (d *Dispatcher) Notify(userID string, ev models.Event) {
	body, ok := toPayload(ev)
	if !ok {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal push payload")
		return
	}

	subs, err := d.store.PushSubscriptions(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to load push subscriptions")
		return
	}

	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}
		resp, err := webpush.SendNotification(data, wpSub, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             defaultTTL,
		})
		if err != nil {
			metrics.PushesFailed.Inc()
			log.Warn().Err(err).Str("user_id", userID).Msg("push delivery failed")
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			// The endpoint no longer exists; forget it.
			metrics.PushesFailed.Inc()
			if err := d.store.DeletePushSubscription(userID, sub.Endpoint); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("failed to prune push subscription")
			}
		default:
			metrics.PushesSent.Inc()
		}
	}
}

func toPayload(ev models.Event) (payload, bool) {
	switch ev.Type {
	case models.EventMessageInserted:
		p := payload{Kind: "message", ConversationID: ev.ConversationID}
		if ev.Message != nil {
			p.FromUserID = ev.Message.SenderID
		}
		return p, true
	case models.EventCallRinging:
		p := payload{Kind: "incoming_call", ConversationID: ev.ConversationID}
		if ev.Call != nil {
			p.FromUserID = ev.Call.CallerID
			p.CallType = string(ev.Call.Type)
		}
		return p, true
	}
	return payload{}, false
}
