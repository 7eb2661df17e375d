package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/kestrelsync/docsync/internal/model"
)

type fakeStore struct {
	entries []model.EventQueueEntry
	fail    bool
}

func (f *fakeStore) EnqueueEvent(entry model.EventQueueEntry) (uint64, error) {
	if f.fail {
		return 0, io.ErrClosedPipe
	}
	entry.ID = uint64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return entry.ID, nil
}

func testHandler(store *fakeStore) *Handler {
	return &Handler{
		Store:  store,
		Secret: "shh",
		Log:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandle_ValidSignatureEnqueues(t *testing.T) {
	store := &fakeStore{}
	mux := http.NewServeMux()
	testHandler(store).Mount(mux)

	body := []byte(`{"doctype":"Customer","name":"ACME-01","action":"save"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/cloud", strings.NewReader(string(body)))
	req.Header.Set(signatureHeader, sign(body, "shh"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.entries) != 1 || store.entries[0].Source != model.SourceCloud {
		t.Fatalf("got entries %+v", store.entries)
	}
	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "success" {
		t.Fatalf("got %+v", resp)
	}
}

func TestHandle_InvalidSignatureRejected(t *testing.T) {
	store := &fakeStore{}
	mux := http.NewServeMux()
	testHandler(store).Mount(mux)

	body := []byte(`{"doctype":"Customer","name":"ACME-01"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/cloud", strings.NewReader(string(body)))
	req.Header.Set(signatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d", rec.Code)
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no enqueued event on bad signature")
	}
}

func TestHandle_NoSignatureHeaderStillProcessed(t *testing.T) {
	store := &fakeStore{}
	mux := http.NewServeMux()
	testHandler(store).Mount(mux)

	body := []byte(`{"doctype":"Customer","name":"ACME-01"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/local", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if len(store.entries) != 1 || store.entries[0].Action != "update" {
		t.Fatalf("expected default action 'update', got %+v", store.entries)
	}
}

func TestHandle_MissingFieldsRejected(t *testing.T) {
	store := &fakeStore{}
	mux := http.NewServeMux()
	testHandler(store).Mount(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhook/cloud", strings.NewReader(`{"doctype":"Customer"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHandle_MalformedJSONRejected(t *testing.T) {
	store := &fakeStore{}
	mux := http.NewServeMux()
	testHandler(store).Mount(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhook/cloud", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

type denyGuard struct{}

func (denyGuard) Allow(string, string) bool { return false }

func TestHandle_RateLimited(t *testing.T) {
	store := &fakeStore{}
	h := testHandler(store)
	h.Guard = denyGuard{}
	mux := http.NewServeMux()
	h.Mount(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhook/cloud", strings.NewReader(`{"doctype":"Customer","name":"x"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d", rec.Code)
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no enqueue when rate limited")
	}
}

type fakeMetrics struct {
	calls []string
}

func (f *fakeMetrics) RecordWebhookRequest(endpoint string, status int) {
	f.calls = append(f.calls, endpoint)
	_ = status
}

func TestHandle_RecordsMetricsPerRequest(t *testing.T) {
	store := &fakeStore{}
	h := testHandler(store)
	metrics := &fakeMetrics{}
	h.Metrics = metrics
	mux := http.NewServeMux()
	h.Mount(mux)

	body := []byte(`{"doctype":"Customer","name":"ACME-01"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/cloud", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if len(metrics.calls) != 1 || metrics.calls[0] != "/webhook/cloud" {
		t.Fatalf("expected one /webhook/cloud observation, got %+v", metrics.calls)
	}
}
