package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"parley/internal/models"

	"golang.org/x/time/rate"
)

// Inbound frame budget per connection. Typing bursts coalesce client-side;
// anything beyond this is a misbehaving client.
const (
	inboundRate  = 20
	inboundBurst = 40
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Attach(userID string) chan models.Event
	Detach(userID string, ch chan models.Event)
	SendMessage(convID, senderID, content string, attachment *models.Attachment) (models.Message, error)
	MarkRead(convID, readerID string) error
	Recall(msgID, requesterID string) error
	ToggleReaction(msgID, userID, emoji string) error
	SetTyping(convID, userID string, isTyping bool) error
	Heartbeat(userID string, online bool)
}

type callSignaler interface {
	Start(convID, callerID, calleeID string, callType models.CallType) (models.CallSession, error)
	Answer(callID, userID string) (models.CallSession, error)
	Decline(callID, userID string) (models.CallSession, error)
	Hangup(callID, userID string) (models.CallSession, error)
	Relay(callID, fromUserID string, signal json.RawMessage) error
}

type Connection struct {
	ws         wsConnection
	hub        eventHub
	calls      callSignaler
	userID     string
	fromClient chan models.ClientEvent
	fromServer chan models.Event
	errorCh    chan error
	limiter    *rate.Limiter
}

func NewConnection(
	hub eventHub,
	calls callSignaler,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		calls:      calls,
		userID:     userID,
		fromClient: make(chan models.ClientEvent),
		fromServer: hub.Attach(userID),
		errorCh:    make(chan error, 2),
		limiter:    rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Detach(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ev); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				// Superseded by a newer session for the same user.
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientEvent applies one client frame. Domain refusals go back to
// the client as error events; only transport failures tear the connection
// down.
func (c *Connection) processClientEvent(ev models.ClientEvent) error {
	if !c.limiter.Allow() {
		return c.reject(errors.New("rate limit exceeded"))
	}

	switch ev.Type {
	case models.ClientSend:
		if _, err := c.hub.SendMessage(ev.ConversationID, c.userID, ev.Content, ev.Attachment); err != nil {
			return c.reject(err)
		}
	case models.ClientMarkRead:
		if err := c.hub.MarkRead(ev.ConversationID, c.userID); err != nil {
			return c.reject(err)
		}
	case models.ClientTyping:
		if err := c.hub.SetTyping(ev.ConversationID, c.userID, ev.Typing); err != nil {
			return c.reject(err)
		}
	case models.ClientReact:
		if err := c.hub.ToggleReaction(ev.MessageID, c.userID, ev.Emoji); err != nil {
			return c.reject(err)
		}
	case models.ClientRecall:
		if err := c.hub.Recall(ev.MessageID, c.userID); err != nil {
			return c.reject(err)
		}
	case models.ClientHeartbeat:
		c.hub.Heartbeat(c.userID, true)
	case models.ClientCallStart:
		if _, err := c.calls.Start(ev.ConversationID, c.userID, ev.CalleeID, ev.CallType); err != nil {
			return c.reject(err)
		}
	case models.ClientCallAnswer:
		if _, err := c.calls.Answer(ev.CallID, c.userID); err != nil {
			return c.reject(err)
		}
	case models.ClientCallDecline:
		if _, err := c.calls.Decline(ev.CallID, c.userID); err != nil {
			return c.reject(err)
		}
	case models.ClientCallHangup:
		if _, err := c.calls.Hangup(ev.CallID, c.userID); err != nil {
			return c.reject(err)
		}
	case models.ClientCallSignal:
		if err := c.calls.Relay(ev.CallID, c.userID, ev.Signal); err != nil {
			return c.reject(err)
		}
	default:
		return c.reject(errors.New("unknown event type"))
	}

	return nil
}

func (c *Connection) reject(err error) error {
	return c.ws.WriteJSON(models.Event{
		Type:  models.EventError,
		Error: err.Error(),
	})
}
