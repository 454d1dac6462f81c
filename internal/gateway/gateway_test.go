package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/appdir"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

func templateFixture() model.Template {
	return model.Template{Name: "welcome", Category: "MARKETING", Language: "en", Body: "Hi {{1}}"}
}

func newTestStore(t *testing.T, token string) *session.Store {
	t.Helper()
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)
	t.Setenv(appdir.NexusDirEnv, t.TempDir())

	s := session.NewStore()
	if token != "" {
		if err := s.SetCredential(session.Identity{ID: 1, Email: "op@example.com"}, token); err != nil {
			t.Fatalf("SetCredential failed: %v", err)
		}
	}
	return s
}

func TestListConversations_BearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"waba_account_id":10,"customer_phone":"+15550001111","messages":[]}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok-123"))
	conversations, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
	if len(conversations) != 1 || conversations[0].ID != 1 {
		t.Errorf("conversations = %+v", conversations)
	}
}

func TestListConversations_NoToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, ""))
	_, err := c.ListConversations(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if called {
		t.Error("request was made despite missing credential")
	}
}

func TestDashboard_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"backend down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	_, err := c.Dashboard(context.Background())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want NetworkError", err)
	}
	if netErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d", netErr.Status)
	}
	if netErr.Message != "backend down" {
		t.Errorf("Message = %q", netErr.Message)
	}
}

func TestDashboard_UnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	_, err := c.Dashboard(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
}

func TestSendMessage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/whatsapp/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":42,"message_type":"text","content":"hello","direction":"outbound","status":"sent","created_at":"2025-03-01T10:05:00Z"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	msg, err := c.SendMessage(context.Background(), SendMessageRequest{
		FromPhoneNumber: "+15550009999",
		Recipient:       "+15550001111",
		MessageType:     "text",
		MessageData:     "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID != 42 || msg.Content != "hello" {
		t.Errorf("message = %+v", msg)
	}
}

func TestSendMessage_UnparseableBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	_, err := c.SendMessage(context.Background(), SendMessageRequest{
		FromPhoneNumber: "+1", Recipient: "+2", MessageType: "text", MessageData: "hi",
	})

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("error = %v, want SendError", err)
	}
	if sendErr.Reason != SendFailureNetwork {
		t.Errorf("Reason = %q", sendErr.Reason)
	}
}

func TestSendMessage_DeliveryRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":"recipient opted out"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	_, err := c.SendMessage(context.Background(), SendMessageRequest{
		FromPhoneNumber: "+1", Recipient: "+2", MessageType: "text", MessageData: "hi",
	})

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("error = %v, want SendError", err)
	}
	if sendErr.Reason != SendFailureRejected {
		t.Errorf("Reason = %q, want %q", sendErr.Reason, SendFailureRejected)
	}
	if sendErr.Message != "recipient opted out" {
		t.Errorf("Message = %q", sendErr.Message)
	}
}

func TestSendMessage_BadRequestIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"recipient is required"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	_, err := c.SendMessage(context.Background(), SendMessageRequest{
		FromPhoneNumber: "+1", Recipient: "", MessageType: "text", MessageData: "hi",
	})

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("error = %v, want SendError", err)
	}
	if sendErr.Reason != SendFailureValidation {
		t.Errorf("Reason = %q, want %q", sendErr.Reason, SendFailureValidation)
	}
}

func TestCreateTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/create" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":9,"name":"welcome","category":"MARKETING","language":"en","body":"Hi {{1}}","status":"pending"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	created, err := c.CreateTemplate(context.Background(), templateFixture())
	if err != nil {
		t.Fatalf("CreateTemplate failed: %v", err)
	}
	if created.ID != 9 {
		t.Errorf("ID = %d, want 9", created.ID)
	}
}

func TestExchangeFacebookCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/facebook/callback" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"waba_account_id":77,"phone_number":"+15550009999"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t, "tok"))
	result, err := c.ExchangeFacebookCode(context.Background(), "abc", "http://127.0.0.1:8123/callback")
	if err != nil {
		t.Fatalf("ExchangeFacebookCode failed: %v", err)
	}
	if !result.Success || result.WabaAccountID != 77 {
		t.Errorf("result = %+v", result)
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":1,"content":"x","direction":"outbound","status":"sent","created_at":"2025-03-01T10:00:00Z"}}`))
	}))
	defer srv.Close()

	// One token, no refill worth mentioning within the test window.
	c := New(srv.URL, newTestStore(t, "tok"), WithSendLimit(0.0001, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := c.SendMessage(ctx, SendMessageRequest{FromPhoneNumber: "+1", Recipient: "+2", MessageType: "text", MessageData: "a"}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	_, err := c.SendMessage(ctx, SendMessageRequest{FromPhoneNumber: "+1", Recipient: "+2", MessageType: "text", MessageData: "b"})
	if err == nil {
		t.Fatal("second send succeeded despite exhausted rate budget")
	}
	if hits != 1 {
		t.Errorf("backend hits = %d, want 1", hits)
	}
}
