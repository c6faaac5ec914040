package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

var (
	t0           = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	errStoreDown = errors.New("store down")
)

// memStore is an in-memory CallStore and UserStore
type memStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID]models.Call
	logs  []models.CallLog
	users map[string]models.User

	failTransitions bool
	transitions     int
}

func newMemStore() *memStore {
	return &memStore{
		calls: make(map[uuid.UUID]models.Call),
		users: make(map[string]models.User),
	}
}

func (s *memStore) addUser(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.User{ID: id, IsActive: active}
}

func (s *memStore) user(id string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) call(id uuid.UUID) models.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *memStore) callLogs() []models.CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CallLog(nil), s.logs...)
}

func (s *memStore) transitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions
}

func (s *memStore) setFailTransitions(fail bool) {
	s.mu.Lock()
	s.failTransitions = fail
	s.mu.Unlock()
}

func (s *memStore) CreateCall(_ context.Context, call *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = *call
	return nil
}

func (s *memStore) GetCall(_ context.Context, id uuid.UUID) (*models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	return &call, nil
}

func (s *memStore) TransitionCall(_ context.Context, call *models.Call, from []models.CallStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTransitions {
		return false, errStoreDown
	}
	stored, ok := s.calls[call.ID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if stored.Status == status {
			s.calls[call.ID] = *call
			s.transitions++
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListCalls(_ context.Context, userID, peerID string) ([]models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Call
	for _, call := range s.calls {
		if call.HasParticipant(userID) && (peerID == "" || call.Peer(userID) == peerID) {
			out = append(out, call)
		}
	}
	return out, nil
}

func (s *memStore) DeleteCall(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[id]; !ok {
		return ErrCallNotFound
	}
	delete(s.calls, id)
	return nil
}

func (s *memStore) DeleteCalls(_ context.Context, userID, peerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, call := range s.calls {
		if call.HasParticipant(userID) && (peerID == "" || call.Peer(userID) == peerID) {
			delete(s.calls, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreateCallLogs(_ context.Context, logs []models.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return nil
}

func (s *memStore) ListCallLogs(_ context.Context, userID string, callType models.CallType, _, _ int) ([]models.CallLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CallLog
	for _, l := range s.logs {
		if l.UserID == userID && (callType == "" || l.CallType == callType) {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (s *memStore) SetOnline(_ context.Context, id string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.IsOnline = online
	user.LastSeen = &lastSeen
	s.users[id] = user
	return nil
}

func (s *memStore) ListStaleOnline(_ context.Context, before time.Time) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, user := range s.users {
		if user.IsOnline && (user.LastSeen == nil || user.LastSeen.Before(before)) {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type sentEvent struct {
	sessionID string
	event     models.OutboundEvent
}

// recordingHub is a Broadcaster that remembers what each session received
type recordingHub struct {
	mu         sync.Mutex
	sessions   map[string]string // session id -> user id
	sent       []sentEvent
	broadcasts []models.OutboundEvent
	closed     []string
}

func newRecordingHub() *recordingHub {
	return &recordingHub{sessions: make(map[string]string)}
}

func (h *recordingHub) attach(sessionID, userID string) {
	h.mu.Lock()
	h.sessions[sessionID] = userID
	h.mu.Unlock()
}

func (h *recordingHub) SendToSession(sessionID string, event models.OutboundEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		return false
	}
	h.sent = append(h.sent, sentEvent{sessionID, event})
	return true
}

func (h *recordingHub) SendToUser(userID string, event models.OutboundEvent, except ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sessionID, owner := range h.sessions {
		if owner != userID || contains(except, sessionID) {
			continue
		}
		h.sent = append(h.sent, sentEvent{sessionID, event})
		n++
	}
	return n
}

func (h *recordingHub) Broadcast(event models.OutboundEvent) {
	h.mu.Lock()
	h.broadcasts = append(h.broadcasts, event)
	h.mu.Unlock()
}

func (h *recordingHub) CloseSession(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.closed = append(h.closed, sessionID)
	h.mu.Unlock()
}

func (h *recordingHub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, owner := range h.sessions {
		if owner == userID {
			delete(h.sessions, sessionID)
			h.closed = append(h.closed, sessionID)
		}
	}
}

// received returns the events of type t delivered to sessionID
func (h *recordingHub) received(sessionID string, t models.MessageType) []models.OutboundEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.OutboundEvent
	for _, s := range h.sent {
		if s.sessionID == sessionID && s.event.Type == t {
			out = append(out, s.event)
		}
	}
	return out
}

// lastStatus returns the most recent broadcast status of userID
func (h *recordingHub) lastStatus(userID string) models.PresenceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.broadcasts) - 1; i >= 0; i-- {
		if ev, ok := h.broadcasts[i].Data.(models.UserStatusEvent); ok && ev.UserID == userID {
			return ev.Status
		}
	}
	return ""
}

func (h *recordingHub) statusCount(userID string, status models.PresenceStatus) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, b := range h.broadcasts {
		if ev, ok := b.Data.(models.UserStatusEvent); ok && ev.UserID == userID && ev.Status == status {
			n++
		}
	}
	return n
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// recordingMirror is an in-memory PresenceMirror
type recordingMirror struct {
	mu      sync.Mutex
	online  map[string]models.PresenceStatus
	removed []string
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{online: make(map[string]models.PresenceStatus)}
}

func (m *recordingMirror) Update(_ context.Context, userID string, status models.PresenceStatus) error {
	m.mu.Lock()
	m.online[userID] = status
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) Remove(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.online, userID)
	m.removed = append(m.removed, userID)
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) OnlineUserIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *recordingMirror) PublishStatus(context.Context, string, models.PresenceStatus) error {
	return nil
}

func (m *recordingMirror) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.online[userID]
	return ok
}

const (
	testHeartbeatWindow = 30 * time.Second
	testRingTimeout     = 60 * time.Second
)

// harness wires the signaling core against fakes and a mock clock
type harness struct {
	clock      *clock.Mock
	store      *memStore
	hub        *recordingHub
	mirror     *recordingMirror
	registry   *Registry
	presence   *PresenceService
	directory  *Directory
	reconciler *Reconciler
	relay      *Relay
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(t0)

	h := &harness{
		clock:     clk,
		store:     newMemStore(),
		hub:       newRecordingHub(),
		mirror:    newRecordingMirror(),
		directory: NewDirectory(),
	}
	logger := utils.NewNopLogger()
	h.registry = NewRegistry(clk, testHeartbeatWindow)
	h.presence = NewPresenceService(h.registry, h.store, h.hub, h.mirror, clk, logger)
	h.reconciler = NewReconciler(h.store, h.directory, h.presence, h.hub, clk, testRingTimeout, logger)
	h.relay = NewRelay(h.presence, h.directory, h.reconciler, h.hub, logger)
	return h
}

// connect opens a session for an active user and announces it
func (h *harness) connect(t *testing.T, userID, sessionID string) Session {
	t.Helper()
	if _, err := h.store.GetUser(context.Background(), userID); err != nil {
		h.store.addUser(userID, true)
	}
	h.hub.attach(sessionID, userID)
	sess := Session{ID: sessionID, UserID: userID}
	if err := h.relay.Handle(context.Background(), sess, &models.PresenceMessage{Type: models.MsgAnnounceOnline}); err != nil {
		t.Fatalf("announce %s: %v", userID, err)
	}
	return sess
}

// newCall stores an initiated call the way POST /calls does
func (h *harness) newCall(t *testing.T, caller, recipient string) uuid.UUID {
	t.Helper()
	now := h.clock.Now()
	call := &models.Call{
		ID:          uuid.New(),
		CallerID:    caller,
		RecipientID: recipient,
		CallType:    models.CallTypeVideo,
		Status:      models.CallStatusInitiated,
		StartTime:   &now,
	}
	if err := h.store.CreateCall(context.Background(), call); err != nil {
		t.Fatal(err)
	}
	return call.ID
}

// eventually polls cond; mock clock timers run their callbacks on their
// own goroutines
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// never asserts cond stays false for a short while
func never(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("unexpected: %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
