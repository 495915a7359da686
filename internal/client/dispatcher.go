package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 10 * time.Second

// Dispatcher sends requests to the backend, attaching the stored access
// token as a bearer credential.
type Dispatcher struct {
	baseURL string
	http    *http.Client
	store   tokenstore.Store
	logger  *logrus.Logger
}

type Option func(*Dispatcher)

// WithTimeout bounds every request, the refresh call included.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.http.Timeout = d
	}
}

// WithTransport swaps the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(disp *Dispatcher) {
		disp.http.Transport = rt
	}
}

func NewDispatcher(baseURL string, store tokenstore.Store, logger *logrus.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		store:   store,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Store() tokenstore.Store {
	return d.store
}

// url resolves path against the base URL. Absolute URLs are used as given.
func (d *Dispatcher) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.baseURL + path
}

func (d *Dispatcher) build(ctx context.Context, p *pendingRequest) (*http.Request, error) {
	target := d.url(p.req.Path)
	if len(p.req.Query) > 0 {
		target += "?" + p.req.Query.Encode()
	}

	var body *bytes.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}

	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, p.req.Method, target, body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, p.req.Method, target, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range p.req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	// Multipart bodies always carry their own boundary, whatever the caller set.
	if p.contentType != "" {
		httpReq.Header.Set("Content-Type", p.contentType)
	}
	if !p.multipart && p.contentType == "" {
		httpReq.Header.Del("Content-Type")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("X-Request-Id", p.requestID)

	token := p.token
	if p.req.Anonymous {
		token = ""
	} else if token == "" {
		token, _ = d.store.Get(tokenstore.AccessTokenKey)
	}
	// Credentials only go to our own backend, never to e.g. a media host.
	p.foreign = !strings.HasPrefix(target, d.baseURL+"/")
	p.sentToken = ""
	if token != "" && !p.foreign {
		httpReq.Header.Set("Authorization", "Bearer "+token)
		p.sentToken = token
	} else {
		httpReq.Header.Del("Authorization")
	}

	return httpReq, nil
}

// send performs one attempt. Transport and timeout errors come back unchanged.
func (d *Dispatcher) send(ctx context.Context, p *pendingRequest) (*http.Response, error) {
	httpReq, err := d.build(ctx, p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := d.http.Do(httpReq)

	entry := d.logger.WithFields(logrus.Fields{
		"method":     p.req.Method,
		"path":       p.req.Path,
		"request_id": p.requestID,
		"retried":    p.retried,
		"duration":   time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Debug("Request failed")
		return nil, err
	}
	entry.WithField("status", resp.StatusCode).Debug("Request completed")
	return resp, nil
}

// IsTimeout reports whether err is a client-side timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
