// Package ingress implements the HTTP webhook endpoints that authenticate
// an inbound change notification and enqueue it into the state store for
// asynchronous processing by a Queue Worker.
package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kestrelsync/docsync/internal/accesslog"
	"github.com/kestrelsync/docsync/internal/model"
)

const signatureHeader = "X-Frappe-Webhook-Signature"

// Enqueuer is the subset of the state store the ingress handler needs.
type Enqueuer interface {
	EnqueueEvent(entry model.EventQueueEntry) (uint64, error)
}

// Guard authorizes a request before its body is parsed.
type Guard interface {
	Allow(clientIP, side string) bool
}

type allowAllGuard struct{}

func (allowAllGuard) Allow(string, string) bool { return true }

// MetricsRecorder receives a count of one webhook request per endpoint and
// response status.
type MetricsRecorder interface {
	RecordWebhookRequest(endpoint string, status int)
}

// Handler serves /webhook/cloud and /webhook/local.
type Handler struct {
	Store     Enqueuer
	Secret    string
	Guard     Guard
	Log       *slog.Logger
	AccessLog *accesslog.AccessLogger // optional
	Metrics   MetricsRecorder         // optional
}

func (h *Handler) respond(w http.ResponseWriter, source model.EventSource, status int, body any) {
	if h.Metrics != nil {
		h.Metrics.RecordWebhookRequest("/webhook/"+string(source), status)
	}
	writeJSON(w, status, body)
}

func (h *Handler) logAccess(r *http.Request, clientIP string, source model.EventSource, doctype, docname string, status int, bodyLen int) {
	if h.AccessLog == nil {
		return
	}
	h.AccessLog.Log(accesslog.AccessEntry{
		Time:     time.Now().UTC(),
		Method:   r.Method,
		Source:   string(source),
		Doctype:  doctype,
		Docname:  docname,
		Status:   status,
		Bytes:    int64(bodyLen),
		ClientIP: clientIP,
	})
}

func (h *Handler) guard() Guard {
	if h.Guard == nil {
		return allowAllGuard{}
	}
	return h.Guard
}

type webhookPayload struct {
	Doctype string `json:"doctype"`
	Name    string `json:"name"`
	Action  string `json:"action"`
}

// Mount registers the webhook routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/webhook/cloud", h.handle(model.SourceCloud))
	mux.HandleFunc("/webhook/local", h.handle(model.SourceLocal))
}

func (h *Handler) handle(source model.EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		clientIP := clientIPOf(r)
		if !h.guard().Allow(clientIP, string(source)) {
			h.respond(w, source, http.StatusTooManyRequests, map[string]string{"status": "error", "message": "rate limit exceeded"})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.respond(w, source, http.StatusBadRequest, map[string]string{"status": "error", "message": "unable to read body"})
			return
		}

		if sig := r.Header.Get(signatureHeader); sig != "" {
			if !verifySignature(body, sig, h.Secret) {
				h.respond(w, source, http.StatusUnauthorized, map[string]string{"status": "error", "message": "invalid signature"})
				return
			}
		}

		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil || len(body) == 0 {
			h.respond(w, source, http.StatusBadRequest, map[string]string{"status": "error", "message": "malformed payload"})
			return
		}
		if payload.Doctype == "" || payload.Name == "" {
			h.respond(w, source, http.StatusBadRequest, map[string]string{"status": "error", "message": "missing doctype or name"})
			return
		}
		action := payload.Action
		if action == "" {
			action = "update"
		}

		id, err := h.Store.EnqueueEvent(model.EventQueueEntry{
			Source:  source,
			Doctype: payload.Doctype,
			Docname: payload.Name,
			Action:  action,
			Payload: body,
		})
		if err != nil {
			h.Log.Error("enqueue webhook failed", "source", source, "error", err)
			h.logAccess(r, clientIP, source, payload.Doctype, payload.Name, http.StatusInternalServerError, len(body))
			h.respond(w, source, http.StatusInternalServerError, map[string]string{"status": "error", "message": "failed to queue webhook"})
			return
		}

		h.logAccess(r, clientIP, source, payload.Doctype, payload.Name, http.StatusOK, len(body))
		h.Log.Info("webhook received", "source", source, "doctype", payload.Doctype, "docname", payload.Name, "action", action)
		h.respond(w, source, http.StatusOK, map[string]any{"status": "success", "id": id})
	}
}

func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func clientIPOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusHandler serves GET /status with live queue depth.
type StatusHandler struct {
	Store interface {
		QueueDepth() (pending, processing int, err error)
	}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pending, processing, err := h.Store.QueueDepth()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "running",
		"pending_webhooks":    pending,
		"processing_webhooks": processing,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}
