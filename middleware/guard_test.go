package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goAudit "github.com/MrEthical07/goAudit"
	"github.com/MrEthical07/goAudit/store/memory"
)

type recorded struct {
	typ       goAudit.EventType
	action    string
	principal string
	details   map[string]any
}

type spyRecorder struct {
	mu     sync.Mutex
	events []recorded
}

func (s *spyRecorder) RecordContext(ctx context.Context, typ goAudit.EventType, action string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recorded{
		typ:       typ,
		action:    action,
		principal: goAudit.PrincipalFromContext(ctx),
		details:   details,
	})
	return nil
}

func (s *spyRecorder) snapshot() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.events...)
}

func keyAuthenticator(r *http.Request) (string, error) {
	switch r.Header.Get("X-API-Key") {
	case "":
		return "", ErrNoCredentials
	case "alice-key":
		return "alice", nil
	default:
		return "", errors.New("unknown key")
	}
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestGuardRecordsOutcome(t *testing.T) {
	cases := []struct {
		name       string
		key        string
		wantStatus int
		wantType   goAudit.EventType
		wantUser   string
	}{
		{name: "valid", key: "alice-key", wantStatus: http.StatusOK, wantType: goAudit.EventAuthenticationSuccess, wantUser: "alice"},
		{name: "anonymous", key: "", wantStatus: http.StatusUnauthorized, wantType: goAudit.EventAnonymousAccessDenied},
		{name: "bad key", key: "nope", wantStatus: http.StatusUnauthorized, wantType: goAudit.EventAuthenticationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spy := &spyRecorder{}
			h := Guard(spy, keyAuthenticator)(http.HandlerFunc(okHandler))

			req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			events := spy.snapshot()
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].typ != tc.wantType {
				t.Fatalf("type = %q, want %q", events[0].typ, tc.wantType)
			}
			if events[0].principal != tc.wantUser {
				t.Fatalf("principal = %q, want %q", events[0].principal, tc.wantUser)
			}
			if events[0].action != "GET /api/reports" {
				t.Fatalf("unexpected action %q", events[0].action)
			}
		})
	}
}

func TestGuardNilAuthenticatorRejects(t *testing.T) {
	h := Guard(&spyRecorder{}, nil)(http.HandlerFunc(okHandler))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuthorizeRecordsDecision(t *testing.T) {
	spy := &spyRecorder{}
	allowReads := func(r *http.Request) bool { return r.Method == http.MethodGet }
	h := Guard(spy, keyAuthenticator)(Authorize(spy, allowReads)(http.HandlerFunc(okHandler)))

	get := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	get.Header.Set("X-API-Key", "alice-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, get)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rr.Code)
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/reports", nil)
	del.Header.Set("X-API-Key", "alice-key")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, del)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("DELETE status = %d", rr.Code)
	}

	events := spy.snapshot()
	want := []goAudit.EventType{
		goAudit.EventAuthenticationSuccess,
		goAudit.EventAccessGranted,
		goAudit.EventAuthenticationSuccess,
		goAudit.EventAccessDenied,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, typ := range want {
		if events[i].typ != typ {
			t.Fatalf("event %d type = %q, want %q", i, events[i].typ, typ)
		}
		if events[i].principal != "alice" {
			t.Fatalf("event %d principal = %q", i, events[i].principal)
		}
	}
}

func TestOriginFeedsRecordContext(t *testing.T) {
	sink := goAudit.NewChannelSink(4)
	trail, err := goAudit.New().
		WithConfig(goAudit.DefaultConfig()).
		WithStore(memory.New()).
		WithMirrorSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = trail.Stop(time.Second) })

	h := Origin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := trail.RecordContext(r.Context(), goAudit.EventConfigChange, "rotate", nil); err != nil {
			t.Errorf("record: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/rotate", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case ev := <-sink.Events():
		if ev.OriginAddress != "10.1.2.3" {
			t.Fatalf("origin = %q", ev.OriginAddress)
		}
		if ev.Layer != "rest" {
			t.Fatalf("layer = %q", ev.Layer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mirror never received the event")
	}
}
