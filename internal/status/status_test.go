package status_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/benkietzman/centralmon/internal/status"
)

type fakeSource struct {
	hosts []status.Host
	err   error
}

func (f *fakeSource) Snapshot(context.Context) ([]status.Host, error) {
	return f.hosts, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	h := status.NewRouter(&fakeSource{}, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
}

func TestHostsWithoutAuth(t *testing.T) {
	src := &fakeSource{hosts: []status.Host{
		{
			Name: "web01", OS: "Linux", Release: "5.4", Processes: 200, CPUUsage: 5,
			Alarm: "/ partition is 91% filled which is more than the maximum 90%",
			Daemons: []status.Daemon{
				{Name: "nginx", Processes: 4},
				{Name: "worker", Processes: 0, Alarm: "worker is not currently running"},
			},
		},
	}}
	h := status.NewRouter(src, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var got []status.Host
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if diff := cmp.Diff(src.hosts, got); diff != "" {
		t.Errorf("hosts mismatch (-want +got):\n%s", diff)
	}
}

func TestSingleHost(t *testing.T) {
	src := &fakeSource{hosts: []status.Host{
		{Name: "web01", OS: "Linux"},
		{Name: "db01", OS: "Linux", Alarm: "using 95% swap memory which is more than the maximum 70%"},
	}}
	h := status.NewRouter(src, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts/db01", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var got status.Host
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if diff := cmp.Diff(src.hosts[1], got); diff != "" {
		t.Errorf("host mismatch (-want +got):\n%s", diff)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown host status = %d; want 404", rec.Code)
	}
}

func TestHostsEmptyIsArray(t *testing.T) {
	h := status.NewRouter(&fakeSource{}, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts", nil))
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q; want empty JSON array", body)
	}
}

func TestHostsSnapshotError(t *testing.T) {
	h := status.NewRouter(&fakeSource{err: errors.New("loop stalled")}, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d; want 500", rec.Code)
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "operator",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	h := status.NewRouter(&fakeSource{}, &key.PublicKey, discardLogger())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"valid token", "Bearer " + signToken(t, key, time.Now().Add(time.Hour)), http.StatusOK},
		{"expired token", "Bearer " + signToken(t, key, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"wrong key", "Bearer " + signToken(t, otherKey, time.Now().Add(time.Hour)), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d; want %d", rec.Code, tt.want)
			}
		})
	}

	// The liveness probe stays open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz with auth enabled = %d; want 200", rec.Code)
	}
}
