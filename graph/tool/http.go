package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTool is the one catalogue entry internal/specialist.Registry backs
// with a live implementation rather than MockTool: it issues a GET or POST
// against input["url"] and returns status_code/headers/body.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool builds an HTTPTool. Request deadlines come from the
// caller's context rather than a client-level timeout.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{}}
}

// Name implements Tool.
func (h *HTTPTool) Name() string { return "http_request" }

// Call implements Tool. Recognized input keys: url (required), method
// (GET default, POST allowed), body (string), headers (string-valued
// map). An HTTP-level error status is a result, not a Go error.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	req, err := buildRequest(ctx, input)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			headers[key] = values[0]
			continue
		}
		headers[key] = values
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(body),
	}, nil
}

func buildRequest(ctx context.Context, input map[string]interface{}) (*http.Request, error) {
	url, _ := input["url"].(string)
	if url == "" {
		return nil, errors.New("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if payload, ok := input["body"].(string); ok && payload != "" {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}
	return req, nil
}
