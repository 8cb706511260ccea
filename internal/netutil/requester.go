// Package netutil implements the outbound HTTP layer: a single-shot
// requester with fixed transport policy, typed errors for retry
// classification, and the shared backoff schedule.
package netutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http/httpguts"
)

const (
	// TotalTimeout bounds a whole request including body read.
	TotalTimeout = 120 * time.Second
	// ConnectTimeout bounds dial (TCP + TLS) establishment.
	ConnectTimeout = 30 * time.Second
	// MaxRedirects caps redirect following per request.
	MaxRedirects = 10

	defaultUserAgent = "rankwatch/1.0"
)

// TransportError indicates the request never produced an HTTP response
// (DNS, TCP, TLS, timeout). Retried indefinitely by the clients.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netutil: transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Requester performs single-shot HTTP requests. No internal retry; policy
// lives in the upstream clients. An instance is used from one goroutine;
// fan-out workers each construct their own.
type Requester struct {
	client    *http.Client
	userAgent string
}

// NewRequester builds a requester with the fixed transport policy:
// 120s total timeout, 30s connect timeout, TCP keepalive, TLS >= 1.2 with
// full verification, at most 10 redirects.
func NewRequester() *Requester {
	dialer := &net.Dialer{
		Timeout:   ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: ConnectTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
	}
	return &Requester{
		client: &http.Client{
			Transport: transport,
			Timeout:   TotalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", MaxRedirects)
				}
				return nil
			},
		},
		userAgent: defaultUserAgent,
	}
}

// Do executes one request and returns the response status and body.
// A non-2xx status is not an error here; classification is the caller's job.
// Invalid header names are a programmer error and panic.
func (r *Requester) Do(ctx context.Context, method, url string, headers http.Header, body []byte) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, &TransportError{URL: url, Err: err}
	}
	for name, values := range headers {
		if !httpguts.ValidHeaderFieldName(name) {
			panic(fmt.Sprintf("netutil: invalid header field name %q", name))
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{URL: url, Err: err}
	}
	return resp.StatusCode, data, nil
}
