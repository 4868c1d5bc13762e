package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type stubTokens struct {
	id  uuid.UUID
	err error
}

func (s stubTokens) ValidateToken(context.Context, string) (uuid.UUID, error) {
	return s.id, s.err
}

// okHandler writes 200 and the user id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id, ok := UserIDFromCtx(r.Context()); ok {
		w.Write([]byte(id.String()))
	}
})

func TestUserAuth_ValidToken(t *testing.T) {
	id := uuid.New()
	mw := UserAuth(stubTokens{id: id})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != id.String() {
		t.Errorf("expected user id %q in body, got %q", id, body)
	}
}

func TestUserAuth_MissingHeader(t *testing.T) {
	mw := UserAuth(stubTokens{id: uuid.New()})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUserAuth_InvalidToken(t *testing.T) {
	mw := UserAuth(stubTokens{err: errors.New("expired")})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServiceAuth(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{name: "match", configured: "s3cret", sent: "s3cret", want: http.StatusOK},
		{name: "mismatch", configured: "s3cret", sent: "guess", want: http.StatusForbidden},
		{name: "missing header", configured: "s3cret", sent: "", want: http.StatusForbidden},
		{name: "not configured", configured: "", sent: "", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tc.sent != "" {
				req.Header.Set("X-Service-Token", tc.sent)
			}
			rec := httptest.NewRecorder()
			ServiceAuth(tc.configured)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
