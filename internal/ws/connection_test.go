package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"parley/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientEvent
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientEvent, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v interface{}) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v interface{}) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case ev, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientEvent); ok {
			*ptr = ev
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	attachCh  chan string
	detachCh  chan string
	sendCh    chan models.ClientEvent
	typingCh  chan bool
	userChans map[string]chan models.Event

	sendErr error
}

func newMockHub() *mockHub {
	return &mockHub{
		attachCh:  make(chan string, 10),
		detachCh:  make(chan string, 10),
		sendCh:    make(chan models.ClientEvent, 10),
		typingCh:  make(chan bool, 10),
		userChans: make(map[string]chan models.Event),
	}
}

func (m *mockHub) Attach(userID string) chan models.Event {
	m.attachCh <- userID
	ch := make(chan models.Event, 10)
	m.userChans[userID] = ch
	return ch
}

func (m *mockHub) Detach(userID string, ch chan models.Event) {
	m.detachCh <- userID
	if cur, ok := m.userChans[userID]; ok && cur == ch {
		close(cur)
		delete(m.userChans, userID)
	}
}

func (m *mockHub) SendMessage(convID, senderID, content string, attachment *models.Attachment) (models.Message, error) {
	if m.sendErr != nil {
		return models.Message{}, m.sendErr
	}
	m.sendCh <- models.ClientEvent{Type: models.ClientSend, ConversationID: convID, Content: content, Attachment: attachment}
	return models.Message{ID: "m1", ConversationID: convID, SenderID: senderID, Content: content}, nil
}

func (m *mockHub) MarkRead(convID, readerID string) error { return nil }

func (m *mockHub) Recall(msgID, requesterID string) error { return nil }

func (m *mockHub) ToggleReaction(msgID, userID, emoji string) error { return nil }

func (m *mockHub) SetTyping(convID, userID string, isTyping bool) error {
	m.typingCh <- isTyping
	return nil
}

func (m *mockHub) Heartbeat(userID string, online bool) {}

type mockSignaler struct {
	startCh chan models.CallType
	relayCh chan json.RawMessage
}

func newMockSignaler() *mockSignaler {
	return &mockSignaler{
		startCh: make(chan models.CallType, 10),
		relayCh: make(chan json.RawMessage, 10),
	}
}

func (m *mockSignaler) Start(convID, callerID, calleeID string, callType models.CallType) (models.CallSession, error) {
	m.startCh <- callType
	return models.CallSession{ID: "c1", Status: models.CallPending}, nil
}

func (m *mockSignaler) Answer(callID, userID string) (models.CallSession, error) {
	return models.CallSession{ID: callID, Status: models.CallAccepted}, nil
}

func (m *mockSignaler) Decline(callID, userID string) (models.CallSession, error) {
	return models.CallSession{ID: callID, Status: models.CallDeclined}, nil
}

func (m *mockSignaler) Hangup(callID, userID string) (models.CallSession, error) {
	return models.CallSession{ID: callID, Status: models.CallEnded}, nil
}

func (m *mockSignaler) Relay(callID, fromUserID string, signal json.RawMessage) error {
	m.relayCh <- signal
	return nil
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	calls := newMockSignaler()
	ws := newMockWS()
	userID := "user1"

	conn := NewConnection(hub, calls, ws, userID)
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}

	// Verify Attach was called
	select {
	case id := <-hub.attachCh:
		if id != userID {
			t.Errorf("Expected Attach with %s, got %s", userID, id)
		}
	default:
		t.Error("Attach not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client frame -> hub
	ws.readCh <- models.ClientEvent{
		Type:           models.ClientSend,
		ConversationID: "conv1",
		Content:        "hello",
	}

	select {
	case received := <-hub.sendCh:
		if received.Content != "hello" || received.ConversationID != "conv1" {
			t.Errorf("Hub received wrong frame: %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Hub did not receive the send frame")
	}

	// 2. Server event -> client
	hub.userChans[userID] <- models.Event{
		Type:           models.EventMessageInserted,
		ConversationID: "conv1",
		Message:        &models.Message{Content: "hi back"},
	}

	select {
	case received := <-ws.writeCh:
		ev, ok := received.(models.Event)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if ev.Message == nil || ev.Message.Content != "hi back" {
			t.Errorf("WS received wrong event: %+v", ev)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive the server event")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	// Verify Detach called
	select {
	case id := <-hub.detachCh:
		if id != userID {
			t.Errorf("Expected Detach with %s, got %s", userID, id)
		}
	default:
		t.Error("Detach not called")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	calls := newMockSignaler()
	ws := newMockWS()

	conn := NewConnection(hub, calls, ws, "user2")
	<-hub.attachCh

	// A read error tears the connection down.
	ws.errToReturn = errors.New("boom")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the read error to surface from Handle")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on read error")
	}

	select {
	case <-hub.detachCh:
	default:
		t.Error("Detach not called after read error")
	}
}

func TestConnection_DomainErrorIsSoft(t *testing.T) {
	hub := newMockHub()
	hub.sendErr = models.ErrPermission
	calls := newMockSignaler()
	ws := newMockWS()

	conn := NewConnection(hub, calls, ws, "user3")
	<-hub.attachCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- models.ClientEvent{Type: models.ClientSend, ConversationID: "conv1", Content: "nope"}

	// The refusal comes back as an error event; the connection stays up.
	select {
	case received := <-ws.writeCh:
		ev, ok := received.(models.Event)
		if !ok || ev.Type != models.EventError {
			t.Errorf("expected error event, got %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("no error event written")
	}

	select {
	case err := <-done:
		t.Errorf("connection must survive a domain refusal, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnection_CallFrames(t *testing.T) {
	hub := newMockHub()
	calls := newMockSignaler()
	ws := newMockWS()

	conn := NewConnection(hub, calls, ws, "user4")
	<-hub.attachCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- models.ClientEvent{
		Type:           models.ClientCallStart,
		ConversationID: "conv1",
		CalleeID:       "user5",
		CallType:       models.CallVideo,
	}
	select {
	case callType := <-calls.startCh:
		if callType != models.CallVideo {
			t.Errorf("expected video call, got %s", callType)
		}
	case <-time.After(1 * time.Second):
		t.Error("signaler did not receive call start")
	}

	signal := json.RawMessage(`{"sdp":"v=0"}`)
	ws.readCh <- models.ClientEvent{Type: models.ClientCallSignal, CallID: "c1", Signal: signal}
	select {
	case got := <-calls.relayCh:
		if string(got) != string(signal) {
			t.Errorf("expected signal relayed untouched, got %s", got)
		}
	case <-time.After(1 * time.Second):
		t.Error("signaler did not receive the relay frame")
	}

	cancel()
	<-done
}

func TestConnection_SupersededSessionStops(t *testing.T) {
	hub := newMockHub()
	calls := newMockSignaler()
	ws := newMockWS()

	conn := NewConnection(hub, calls, ws, "user6")
	<-hub.attachCh

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	// The hub closing the subscription channel (a newer session took over)
	// shuts this connection down cleanly.
	close(hub.userChans["user6"])
	delete(hub.userChans, "user6")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after the channel closed")
	}
}
