package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

type fakeCalls struct {
	calls map[uuid.UUID]*models.Call
	logs  []models.CallLog
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{calls: make(map[uuid.UUID]*models.Call)}
}

func (f *fakeCalls) CreateCall(_ context.Context, call *models.Call) error {
	cp := *call
	f.calls[call.ID] = &cp
	return nil
}

func (f *fakeCalls) GetCall(_ context.Context, id uuid.UUID) (*models.Call, error) {
	call, ok := f.calls[id]
	if !ok {
		return nil, services.ErrCallNotFound
	}
	cp := *call
	return &cp, nil
}

func (f *fakeCalls) TransitionCall(_ context.Context, call *models.Call, _ []models.CallStatus) (bool, error) {
	cp := *call
	f.calls[call.ID] = &cp
	return true, nil
}

func (f *fakeCalls) ListCalls(_ context.Context, userID, peerID string) ([]models.Call, error) {
	var out []models.Call
	for _, call := range f.calls {
		if !call.HasParticipant(userID) {
			continue
		}
		if peerID != "" && call.Peer(userID) != peerID {
			continue
		}
		out = append(out, *call)
	}
	return out, nil
}

func (f *fakeCalls) DeleteCall(_ context.Context, id uuid.UUID) error {
	if _, ok := f.calls[id]; !ok {
		return services.ErrCallNotFound
	}
	delete(f.calls, id)
	return nil
}

func (f *fakeCalls) DeleteCalls(_ context.Context, userID, peerID string) (int64, error) {
	var n int64
	for id, call := range f.calls {
		if call.HasParticipant(userID) && (peerID == "" || call.Peer(userID) == peerID) {
			delete(f.calls, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeCalls) CreateCallLogs(_ context.Context, logs []models.CallLog) error {
	f.logs = append(f.logs, logs...)
	return nil
}

func (f *fakeCalls) ListCallLogs(_ context.Context, userID string, callType models.CallType, limit, offset int) ([]models.CallLog, int64, error) {
	var matched []models.CallLog
	for _, l := range f.logs {
		if l.UserID == userID && (callType == "" || l.CallType == callType) {
			matched = append(matched, l)
		}
	}
	total := int64(len(matched))
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

type fakeAvailability map[string]bool

func (f fakeAvailability) IsAvailable(userID string) bool { return f[userID] }

type fakeEnder struct {
	call *models.Call
	err  error
}

func (f *fakeEnder) End(context.Context, uuid.UUID, string, models.CallStatus) (*models.Call, error) {
	return f.call, f.err
}

type testEnv struct {
	router *gin.Engine
	calls  *fakeCalls
	ender  *fakeEnder
	clock  *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		calls: newFakeCalls(),
		ender: &fakeEnder{},
		clock: clock.NewMock(),
	}
	env.clock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	h := NewCallHandler(env.calls, fakeAvailability{"bob": true}, env.ender, env.clock, utils.NewNopLogger())

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(func(c *gin.Context) {
		c.Set("userID", c.GetHeader("X-User"))
		c.Next()
	})
	v1.POST("/calls", h.InitiateCall)
	v1.GET("/calls", h.ListCalls)
	v1.DELETE("/calls", h.DeleteAllCalls)
	v1.GET("/calls/peer/:peerId", h.ListPeerCalls)
	v1.DELETE("/calls/peer/:peerId", h.DeletePeerCalls)
	v1.GET("/calls/:id", h.GetCall)
	v1.DELETE("/calls/:id", h.DeleteCall)
	v1.PUT("/calls/:id/end", h.EndCall)
	v1.GET("/call-logs", h.ListCallLogs)
	env.router = router
	return env
}

func (env *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) seedCall(caller, recipient string) *models.Call {
	now := env.clock.Now()
	call := &models.Call{
		ID:          uuid.New(),
		CallerID:    caller,
		RecipientID: recipient,
		CallType:    models.CallTypeAudio,
		Status:      models.CallStatusInitiated,
		StartTime:   &now,
	}
	env.calls.CreateCall(context.Background(), call)
	return call
}

func TestInitiateCall(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
	}{
		{"video call", map[string]string{"recipientId": "bob", "callType": "video"}, http.StatusCreated},
		{"voice alias", map[string]string{"recipientId": "bob", "callType": "voice"}, http.StatusCreated},
		{"self call", map[string]string{"recipientId": "alice", "callType": "audio"}, http.StatusBadRequest},
		{"bad call type", map[string]string{"recipientId": "bob", "callType": "fax"}, http.StatusBadRequest},
		{"missing recipient", map[string]string{"callType": "audio"}, http.StatusBadRequest},
		{"recipient offline", map[string]string{"recipientId": "carol", "callType": "audio"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/v1/calls", "alice", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusCreated {
				if len(env.calls.calls) != 0 {
					t.Errorf("calls stored = %d, want 0", len(env.calls.calls))
				}
				return
			}

			var call models.Call
			if err := json.Unmarshal(rec.Body.Bytes(), &call); err != nil {
				t.Fatal(err)
			}
			if call.Status != models.CallStatusInitiated {
				t.Errorf("status = %q, want initiated", call.Status)
			}
			if call.CallerID != "alice" || call.RecipientID != "bob" {
				t.Errorf("participants = %s -> %s", call.CallerID, call.RecipientID)
			}
			if call.StartTime == nil || !call.StartTime.Equal(env.clock.Now()) {
				t.Errorf("start time = %v, want %v", call.StartTime, env.clock.Now())
			}
		})
	}
}

func TestGetCallParticipantsOnly(t *testing.T) {
	env := newTestEnv(t)
	call := env.seedCall("alice", "bob")
	path := "/api/v1/calls/" + call.ID.String()

	if rec := env.do(t, http.MethodGet, path, "bob", nil); rec.Code != http.StatusOK {
		t.Errorf("participant status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, "mallory", nil); rec.Code != http.StatusForbidden {
		t.Errorf("outsider status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/calls/"+uuid.NewString(), "bob", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/calls/not-a-uuid", "bob", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestEndCallErrors(t *testing.T) {
	ended := &models.Call{ID: uuid.New(), Status: models.CallStatusMissed}
	tests := []struct {
		name     string
		ender    fakeEnder
		body     any
		wantCode int
	}{
		{"ok", fakeEnder{call: ended}, nil, http.StatusOK},
		{"requested status", fakeEnder{call: ended}, map[string]string{"status": "rejected"}, http.StatusOK},
		{"non terminal status", fakeEnder{call: ended}, map[string]string{"status": "accepted"}, http.StatusBadRequest},
		{"not found", fakeEnder{err: services.ErrCallNotFound}, nil, http.StatusNotFound},
		{"not participant", fakeEnder{err: services.ErrNotParticipant}, nil, http.StatusForbidden},
		{"persistence still answers", fakeEnder{call: ended, err: fmt.Errorf("%w: boom", services.ErrPersistence)}, nil, http.StatusOK},
		{"unexpected", fakeEnder{err: fmt.Errorf("boom")}, nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			*env.ender = tt.ender
			rec := env.do(t, http.MethodPut, "/api/v1/calls/"+ended.ID.String()+"/end", "alice", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestDeleteCalls(t *testing.T) {
	env := newTestEnv(t)
	withBob := env.seedCall("alice", "bob")
	env.seedCall("carol", "alice")
	env.seedCall("bob", "carol")

	if rec := env.do(t, http.MethodDelete, "/api/v1/calls/"+withBob.ID.String(), "carol", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("outsider delete status = %d, want 403", rec.Code)
	}

	rec := env.do(t, http.MethodDelete, "/api/v1/calls/peer/carol", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("peer delete status = %d", rec.Code)
	}
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", resp.Deleted)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/calls/"+withBob.ID.String(), "alice", nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}
	if len(env.calls.calls) != 1 {
		t.Errorf("remaining calls = %d, want 1", len(env.calls.calls))
	}
}

func TestListCallLogsFiltersAndPaginates(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		callType := models.CallTypeAudio
		if i%2 == 0 {
			callType = models.CallTypeVideo
		}
		env.calls.logs = append(env.calls.logs, models.CallLog{
			ID:       uuid.New(),
			UserID:   "alice",
			CallType: callType,
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/call-logs?callType=video&limit=2", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp models.ListResponse[models.CallLog]
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || resp.Limit != 2 {
		t.Errorf("total=%d len=%d limit=%d, want 3/2/2", resp.Total, len(resp.Data), resp.Limit)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/call-logs?callType=fax", "alice", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}
}
