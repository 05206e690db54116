package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		pinger  Pinger
		want    string
		wantErr bool
	}{
		{"not configured", nil, "not_configured", false},
		{"healthy", stubPinger{}, "healthy", false},
		{"unhealthy", stubPinger{err: errors.New("connection refused")}, "unhealthy", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Check(context.Background(), tt.pinger)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("unexpected error state: %v", err)
			}
		})
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

	stats := func() *PoolStats { return &PoolStats{TotalConns: 2, MaxConns: 10} }
	if err := HealthHandler(stubPinger{}, stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status string    `json:"status"`
		Pool   PoolStats `json:"pool"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "healthy" || !body.Pool.Healthy || body.Pool.MaxConns != 10 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

	if err := HealthHandler(stubPinger{err: errors.New("down")}, nil)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestOpenSQLite_InMemory(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	if status, err := Check(context.Background(), SQLPinger{DB: db}); err != nil || status != "healthy" {
		t.Errorf("expected healthy sqlite, got %q (%v)", status, err)
	}
	if s := SQLStats(db); s.MaxConns != 1 {
		t.Errorf("expected max conns 1, got %d", s.MaxConns)
	}
}
