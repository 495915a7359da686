package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const RefreshPath = "/auth/refresh/"

var (
	// ErrSessionExpired is returned once the refresh flow has given up and the
	// stored credentials have been cleared.
	ErrSessionExpired = errors.New("session expired")
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

// State of the refresh flow.
type State int32

const (
	StateNormal State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateRefreshing:
		return "REFRESHING"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// RefreshCoordinator wraps a Dispatcher and turns a 401 into one refresh and
// one replay of the failed request. Concurrent 401s share the same refresh
// call.
type RefreshCoordinator struct {
	dispatcher *Dispatcher
	logger     *logrus.Logger

	group singleflight.Group
	state atomic.Int32

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(error)
}

func NewRefreshCoordinator(dispatcher *Dispatcher, logger *logrus.Logger) *RefreshCoordinator {
	return &RefreshCoordinator{
		dispatcher: dispatcher,
		logger:     logger,
		listeners:  make(map[int]func(error)),
	}
}

// New wires a dispatcher and coordinator over store.
func New(baseURL string, store tokenstore.Store, logger *logrus.Logger, opts ...Option) *RefreshCoordinator {
	return NewRefreshCoordinator(NewDispatcher(baseURL, store, logger, opts...), logger)
}

func (c *RefreshCoordinator) Dispatcher() *Dispatcher {
	return c.dispatcher
}

func (c *RefreshCoordinator) State() State {
	return State(c.state.Load())
}

// Reset returns the coordinator to NORMAL after a fresh login.
func (c *RefreshCoordinator) Reset() {
	c.state.Store(int32(StateNormal))
}

// OnSessionExpired registers fn to run whenever the refresh flow gives up.
// The returned func removes the subscription.
func (c *RefreshCoordinator) OnSessionExpired(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *RefreshCoordinator) emitExpired(err error) {
	c.mu.Lock()
	fns := make([]func(error), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// Do sends req and resolves it through the refresh flow. Any response other
// than a first 401 is returned as-is; the caller owns resp.Body.
func (c *RefreshCoordinator) Do(ctx context.Context, req *Request) (*http.Response, error) {
	p, err := newPending(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.dispatcher.send(ctx, p)
	if err != nil {
		return nil, err
	}

	// A 401 from a host that never saw our credentials says nothing about
	// the session.
	if resp.StatusCode != http.StatusUnauthorized || p.retried || req.Anonymous || p.foreign {
		return resp, nil
	}

	p.retried = true
	drain(resp)

	access, err := c.accessFor(ctx, p.sentToken)
	if err != nil {
		return nil, err
	}

	p.token = access
	return c.dispatcher.send(ctx, p)
}

// accessFor returns a token to replay with. When another request already
// replaced the token that was rejected, that newer token is used directly.
func (c *RefreshCoordinator) accessFor(ctx context.Context, rejected string) (string, error) {
	// The session already ended and listeners were told; only Reset revives it.
	if c.State() == StateFailed {
		return "", ErrSessionExpired
	}
	if current, ok := c.dispatcher.store.Get(tokenstore.AccessTokenKey); ok && current != "" && current != rejected {
		return current, nil
	}

	v, err, shared := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		c.logger.Debug("Joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *RefreshCoordinator) refresh(ctx context.Context) (string, error) {
	c.state.Store(int32(StateRefreshing))
	store := c.dispatcher.store

	refreshToken, ok := store.Get(tokenstore.RefreshTokenKey)
	if !ok || refreshToken == "" {
		return "", c.fail(ErrNoRefreshToken)
	}

	access, err := c.callRefresh(ctx, refreshToken)
	if err != nil {
		return "", c.fail(err)
	}

	store.Set(tokenstore.AccessTokenKey, access)
	c.state.Store(int32(StateNormal))
	c.logger.Debug("Access token refreshed")
	return access, nil
}

func (c *RefreshCoordinator) fail(cause error) error {
	tokenstore.Clear(c.dispatcher.store)
	c.state.Store(int32(StateFailed))

	err := fmt.Errorf("%w: %w", ErrSessionExpired, cause)
	c.logger.WithError(cause).Warn("Token refresh failed, session cleared")
	c.emitExpired(err)
	return err
}

// callRefresh exchanges the refresh token outside the coordinator so a
// rejected refresh can never recurse into another refresh.
func (c *RefreshCoordinator) callRefresh(ctx context.Context, refreshToken string) (string, error) {
	p, err := newPending(&Request{
		Method:    http.MethodPost,
		Path:      RefreshPath,
		JSON:      models.RefreshRequest{Refresh: refreshToken},
		Anonymous: true,
	})
	if err != nil {
		return "", err
	}
	// The refresh token is the credential; no bearer header.
	httpReq, err := c.dispatcher.build(ctx, p)
	if err != nil {
		return "", err
	}

	resp, err := c.dispatcher.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	var out models.RefreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", fmt.Errorf("refresh response has no access token")
	}
	return out.Access, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
