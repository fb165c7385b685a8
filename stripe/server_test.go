package stripe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	qt "github.com/frankban/quicktest"
)

// stripeServer is a test server speaking the Stripe REST wire format. It
// records the decoded form of every request.
type stripeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Form   url.Values
}

func newStripeServer(c *qt.C, routes map[string]http.HandlerFunc) *stripeServer {
	s := &stripeServer{}
	mux := http.NewServeMux()
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Form: r.Form})
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	c.Cleanup(s.Close)
	return s
}

// calls returns the requests received for method and path.
func (s *stripeServer) calls(method, path string) []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedRequest
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *stripeServer) client() *Client {
	return NewClient(&Config{
		APIKey:        "sk_test_billing",
		WebhookSecret: testWebhookSecret,
		BackendURL:    s.URL,
	})
}

func writeStripeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func stripeList(path string, data ...any) map[string]any {
	if data == nil {
		data = []any{}
	}
	return map[string]any{"object": "list", "url": path, "has_more": false, "data": data}
}

func stripeErrorResponse(errType, code, message string) map[string]any {
	return map[string]any{"error": map[string]any{"type": errType, "code": code, "message": message}}
}
