// Package remote implements the typed document adapter against one side's
// REST resource API, including fingerprinting and the optimistic-concurrency
// retry loop used by Update.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelsync/docsync/internal/model"
)

// RemoteError wraps a failed HTTP call with enough context to log or
// classify without re-parsing the original response.
type RemoteError struct {
	Verb   string
	URL    string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Verb, e.URL, e.Status, e.Body)
}

var staleTimestampSubstrings = []string{
	"timestamp mismatch",
	"document has been modified",
	"has been modified after you have opened it",
}

// ListOptions configures a paged List call.
type ListOptions struct {
	Filters  [][]any
	Fields   []string
	Offset   int
	PageLen  int
}

// Client is a typed adapter over one side's document resource API.
type Client struct {
	Name      string
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	log       *slog.Logger
}

// NewClient builds an adapter for one side. name is used only for logging
// and error messages ("Cloud" / "Local").
func NewClient(name, baseURL, apiKey, apiSecret string, log *slog.Logger) *Client {
	return &Client{
		Name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

func (c *Client) authHeader() string {
	return fmt.Sprintf("token %s:%s", c.apiKey, c.apiSecret)
}

func (c *Client) do(ctx context.Context, verb, path string, query url.Values, body any) (int, []byte, error) {
	var reqBody bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reqBody = *bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, verb, u, &reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &RemoteError{Verb: verb, URL: u, Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

func excerpt(b []byte) string {
	if len(b) > 512 {
		return string(b[:512])
	}
	return string(b)
}

type docEnvelope struct {
	Data model.Document `json:"data"`
}

type listEnvelope struct {
	Data []model.Document `json:"data"`
}

// Get fetches one document. A 404 is reported as (nil, false, nil).
func (c *Client) Get(ctx context.Context, doctype, docname string) (model.Document, bool, error) {
	path := fmt.Sprintf("/api/resource/%s/%s", url.PathEscape(doctype), url.PathEscape(docname))
	status, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status >= 300 {
		return nil, false, &RemoteError{Verb: "GET", URL: c.baseURL + path, Status: status, Body: excerpt(body)}
	}
	var env docEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("decode document: %w", err)
	}
	return env.Data, true, nil
}

// List pages documents of a doctype.
func (c *Client) List(ctx context.Context, doctype string, opts ListOptions) ([]model.Document, error) {
	q := url.Values{}
	if len(opts.Filters) > 0 {
		filters, err := json.Marshal(opts.Filters)
		if err != nil {
			return nil, err
		}
		q.Set("filters", string(filters))
	}
	if len(opts.Fields) > 0 {
		fields, err := json.Marshal(opts.Fields)
		if err != nil {
			return nil, err
		}
		q.Set("fields", string(fields))
	}
	if opts.Offset > 0 {
		q.Set("limit_start", strconv.Itoa(opts.Offset))
	}
	if opts.PageLen > 0 {
		q.Set("limit_page_length", strconv.Itoa(opts.PageLen))
	}

	path := fmt.Sprintf("/api/resource/%s", url.PathEscape(doctype))
	status, body, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &RemoteError{Verb: "GET", URL: c.baseURL + path, Status: status, Body: excerpt(body)}
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return env.Data, nil
}

// Create inserts a new document.
func (c *Client) Create(ctx context.Context, doctype string, doc model.Document) (model.Document, error) {
	path := fmt.Sprintf("/api/resource/%s", url.PathEscape(doctype))
	status, body, err := c.do(ctx, http.MethodPost, path, nil, doc)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &RemoteError{Verb: "POST", URL: c.baseURL + path, Status: status, Body: excerpt(body)}
	}
	var env docEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return env.Data, nil
}

// Update writes an existing document. When retryOnStaleTimestamp is set and
// the remote rejects the write as an optimistic-concurrency conflict, the
// adapter re-fetches the current document, copies its modified timestamp
// into the payload, and retries — up to three total attempts.
func (c *Client) Update(ctx context.Context, doctype, docname string, doc model.Document, retryOnStaleTimestamp bool) (model.Document, error) {
	const maxAttempts = 3
	path := fmt.Sprintf("/api/resource/%s/%s", url.PathEscape(doctype), url.PathEscape(docname))

	payload := doc
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, body, err := c.do(ctx, http.MethodPut, path, nil, payload)
		if err != nil {
			return nil, err
		}
		if status < 300 {
			var env docEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, fmt.Errorf("decode update response: %w", err)
			}
			return env.Data, nil
		}

		if !retryOnStaleTimestamp || attempt == maxAttempts || !isStaleTimestamp(body) {
			return nil, &RemoteError{Verb: "PUT", URL: c.baseURL + path, Status: status, Body: excerpt(body)}
		}

		c.log.Warn("stale timestamp, retrying update", "doctype", doctype, "docname", docname, "attempt", attempt)
		latest, ok, err := c.Get(ctx, doctype, docname)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &RemoteError{Verb: "PUT", URL: c.baseURL + path, Status: status, Body: "document vanished during retry"}
		}
		payload = cloneWithModified(doc, latest.Modified())
	}
	return nil, fmt.Errorf("update %s/%s: exhausted retries", doctype, docname)
}

func cloneWithModified(doc model.Document, modified string) model.Document {
	out := make(model.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["modified"] = modified
	return out
}

// isStaleTimestamp inspects a failure body for the substrings a 409-style
// optimistic-concurrency rejection carries, checking the raw text and, when
// the body decodes as JSON, its _server_messages/message fields.
func isStaleTimestamp(body []byte) bool {
	if containsAny(strings.ToLower(string(body)), staleTimestampSubstrings) {
		return true
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false
	}
	if msg, ok := decoded["message"].(string); ok && containsAny(strings.ToLower(msg), staleTimestampSubstrings) {
		return true
	}
	if raw, ok := decoded["_server_messages"].(string); ok && containsAny(strings.ToLower(raw), staleTimestampSubstrings) {
		return true
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, doctype, docname string) error {
	path := fmt.Sprintf("/api/resource/%s/%s", url.PathEscape(doctype), url.PathEscape(docname))
	status, body, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status >= 300 {
		return &RemoteError{Verb: "DELETE", URL: c.baseURL + path, Status: status, Body: excerpt(body)}
	}
	return nil
}

// TestConnection reports liveness without surfacing an error; failures are
// logged and collapsed to false so startup probes stay simple.
func (c *Client) TestConnection(ctx context.Context) bool {
	status, body, err := c.do(ctx, http.MethodGet, "/api/method/frappe.auth.get_logged_user", nil, nil)
	if err != nil {
		c.log.Warn("connection test failed", "side", c.Name, "error", err)
		return false
	}
	if status >= 300 {
		c.log.Warn("connection test failed", "side", c.Name, "status", status, "body", excerpt(body))
		return false
	}
	return true
}
