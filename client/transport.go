package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Request is a GraphQL request as sent over the wire.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response as received over the wire.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors gqlerror.List   `json:"errors,omitempty"`
}

// Transport delivers requests to a GraphQL server.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc is an adapter to allow the use of ordinary functions as a
// Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport posts JSON requests to a single endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	header   http.Header
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the HTTP client. The default is http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// NewHTTPTransport returns a transport posting to endpoint.
func NewHTTPTransport(endpoint string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{endpoint: endpoint, client: http.DefaultClient, header: make(http.Header)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do implements Transport. GraphQL errors are returned in the response, not
// as an error; non-GraphQL HTTP failures are errors.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	for k, vs := range t.header {
		hreq.Header[k] = vs
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	res, err := t.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("client: post %s: %w", t.endpoint, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("client: unexpected status %s", res.Status)
		}
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return &out, nil
}
