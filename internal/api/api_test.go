package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BridgeWell/CareFlow/internal/genai"
	"github.com/BridgeWell/CareFlow/internal/models"
	"github.com/BridgeWell/CareFlow/internal/store"
)

// stubProcessor scripts ProcessMessage outcomes for handler tests.
type stubProcessor struct {
	reply string
	err   error
	last  models.IncomingMessage
}

func (p *stubProcessor) ProcessMessage(_ context.Context, msg models.IncomingMessage) ([]string, error) {
	p.last = msg
	if p.err != nil {
		return nil, p.err
	}
	return []string{p.reply}, nil
}

func newTestServer(p *stubProcessor) (*Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return NewServer(p, st), st
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestMessageHandler(t *testing.T) {
	p := &stubProcessor{reply: "I'm here with you."}
	s, _ := newTestServer(p)

	req := httptest.NewRequest(http.MethodPost, "/conversations/user1/messages", strings.NewReader(`{"body":"hi","time":1756500000}`))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if p.last.UserID != "user1" || p.last.Body != "hi" {
		t.Errorf("processor received wrong message: %+v", p.last)
	}
	if p.last.Time != 1756500000 {
		t.Errorf("processor should receive the transport timestamp, got %d", p.last.Time)
	}
	body := rec.Body.String()
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %s", resp.Status)
	}
	if !strings.Contains(body, "I'm here with you.") {
		t.Errorf("response missing reply text: %s", body)
	}
}

func TestMessageHandlerInvalidJSON(t *testing.T) {
	s, _ := newTestServer(&stubProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/conversations/user1/messages", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMessageHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"empty body", models.ErrEmptyMessageBody, http.StatusBadRequest},
		{"body too long", models.ErrMessageBodyTooLong, http.StatusBadRequest},
		{"session ended", models.ErrSessionEnded, http.StatusConflict},
		{"remote failure", &genai.RemoteError{Attempts: 3}, http.StatusBadGateway},
		{"malformed response", &genai.MalformedError{Raw: "oops"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(&stubProcessor{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/conversations/user1/messages", strings.NewReader(`{"body":"hi"}`))
			rec := httptest.NewRecorder()
			s.routes().ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestGetConversationHandler(t *testing.T) {
	s, st := newTestServer(&stubProcessor{})
	conv, _ := st.CreateConversation("user1")
	conv.State = models.StateGatheringInfo
	if err := st.SaveConversation(conv); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations/user1", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(models.StateGatheringInfo)) {
		t.Errorf("response missing conversation state: %s", rec.Body.String())
	}
}

func TestGetConversationHandlerNotFound(t *testing.T) {
	s, _ := newTestServer(&stubProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/conversations/nobody", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteConversationHandler(t *testing.T) {
	s, st := newTestServer(&stubProcessor{})
	if _, err := st.CreateConversation("user1"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/conversations/user1", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if conv, _ := st.GetConversation("user1"); conv != nil {
		t.Error("conversation still present after delete")
	}

	// Second delete is a 404.
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/user1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat delete, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(&stubProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected health payload: %s", rec.Body.String())
	}
}
