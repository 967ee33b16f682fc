package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledModeAllowsEverything(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Mode() != ModeDisabled {
		t.Fatalf("empty mode should be disabled")
	}
	if _, err := svc.AuthenticateRequest(context.Background(), ""); err != nil {
		t.Fatalf("disabled mode must not require a token: %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTConfig{Secret: "s3cret", Issuer: "leno", Audience: "leno-api"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, err := IssueTokenForAudience("s3cret", "alice", "leno-api", time.Minute, "leno", "chat")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.ID != "alice" || !subject.HasScope("chat") || subject.HasScope("admin") {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestJWTRejections(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeJWT, JWT: JWTConfig{Secret: "s3cret", Issuer: "leno", Audience: "leno-api"}})

	wrongSecret, _ := IssueTokenForAudience("other", "alice", "leno-api", time.Minute, "leno")
	wrongIssuer, _ := IssueTokenForAudience("s3cret", "alice", "leno-api", time.Minute, "evil")
	noAudience, _ := IssueToken("s3cret", "alice", time.Minute, "leno")
	expired, _ := IssueTokenForAudience("s3cret", "alice", "leno-api", time.Nanosecond, "leno")
	time.Sleep(1100 * time.Millisecond)

	for name, header := range map[string]string{
		"missing":      "",
		"scheme":       "Basic abc",
		"garbage":      "Bearer not-a-jwt",
		"wrong secret": "Bearer " + wrongSecret,
		"wrong issuer": "Bearer " + wrongIssuer,
		"no audience":  "Bearer " + noAudience,
		"expired":      "Bearer " + expired,
	} {
		if _, err := svc.AuthenticateRequest(context.Background(), header); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatalf("jwt mode without secret must fail")
	}
}

func TestStaticTokens(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeToken, Tokens: []string{" alpha ", "beta"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subject, err := svc.AuthenticateRequest(context.Background(), "bearer beta")
	if err != nil || subject.Method != ModeToken || !subject.HasScope("anything") {
		t.Fatalf("unexpected result: %+v %v", subject, err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer gamma"); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := NewService(Config{Mode: ModeToken}); err == nil {
		t.Fatalf("token mode without tokens must fail")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatalf("unknown mode must fail")
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeJWT, JWT: JWTConfig{Secret: "s3cret"}})
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		PublicPaths:    []string{"/api/healthz"},
		RequiredScopes: map[string][]string{http.MethodDelete: {"admin"}},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("public path should bypass auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token, _ := IssueToken("s3cret", "bob", time.Minute, "", "chat")
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen == nil || seen.ID != "bob" {
		t.Fatalf("expected authenticated request, got %d %+v", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/tasks/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin scope, got %d", rec.Code)
	}
}
