package client

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// backend is a scripted server: /auth/refresh/ hands out newAccess (or fails),
// /data answers 200 only for the token in valid.
type backend struct {
	mu           sync.Mutex
	valid        string
	newAccess    string
	refreshCode  int
	refreshDelay time.Duration
	alwaysReject bool

	refreshCalls atomic.Int32
	dataCalls    atomic.Int32
	lastAuth     []string
	lastCT       []string
	refreshBody  models.RefreshRequest
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		if b.refreshDelay > 0 {
			time.Sleep(b.refreshDelay)
		}
		b.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&b.refreshBody)
		code := b.refreshCode
		b.mu.Unlock()
		if code != 0 && code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
			return
		}
		b.mu.Lock()
		b.valid = b.newAccess
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(models.RefreshResponse{Access: b.newAccess})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		b.dataCalls.Add(1)
		b.mu.Lock()
		b.lastAuth = append(b.lastAuth, r.Header.Get("Authorization"))
		b.lastCT = append(b.lastCT, r.Header.Get("Content-Type"))
		ok := !b.alwaysReject && r.Header.Get("Authorization") == "Bearer "+b.valid
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func setup(t *testing.T, b *backend) (*RefreshCoordinator, *tokenstore.Memory) {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemory()
	return New(srv.URL, store, quietLogger()), store
}

func get() *Request {
	return &Request{Method: http.MethodGet, Path: "/data"}
}

func TestDo_AttachesBearerToken(t *testing.T) {
	b := &backend{valid: "tok-1"}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "tok-1")

	resp, err := c.Do(context.Background(), get())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer tok-1"}, b.lastAuth)
	assert.EqualValues(t, 0, b.refreshCalls.Load())
	assert.Equal(t, StateNormal, c.State())
}

func TestDo_NoTokenNoHeader(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Values("Authorization")
	}))
	defer srv.Close()

	c := New(srv.URL, tokenstore.NewMemory(), quietLogger())
	resp, err := c.Do(context.Background(), get())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, auth)
}

func TestDo_JSONBody(t *testing.T) {
	var ct string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := New(srv.URL, tokenstore.NewMemory(), quietLogger())
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/auth/login/",
		JSON:   map[string]string{"username": "ana"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "application/json", ct)
	assert.Equal(t, "ana", got["username"])
}

func TestDo_MultipartKeepsBoundary(t *testing.T) {
	var ct, title, pdf string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		title = r.FormValue("title")
		f, _, err := r.FormFile("pdf_file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		pdf = string(data)
	}))
	defer srv.Close()

	c := New(srv.URL, tokenstore.NewMemory(), quietLogger())
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/thesis/",
		// a stale JSON content type from the caller must not survive
		Header:    http.Header{"Content-Type": {"application/json"}},
		Multipart: NewMultipart().Field("title", "On Owls").File("pdf_file", "owls.pdf", "application/pdf", strings.NewReader("%PDF-1.4")),
	})
	require.NoError(t, err)
	resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(ct)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)
	assert.NotEmpty(t, params["boundary"])
	assert.Equal(t, "On Owls", title)
	assert.Equal(t, "%PDF-1.4", pdf)
}

func TestDo_RejectsTwoBodies(t *testing.T) {
	c := New("http://unused", tokenstore.NewMemory(), quietLogger())
	_, err := c.Do(context.Background(), &Request{
		Method:    http.MethodPost,
		Path:      "/x",
		JSON:      map[string]string{},
		Multipart: NewMultipart(),
	})
	assert.Error(t, err)
}

func TestDo_RefreshAndReplay(t *testing.T) {
	b := &backend{valid: "fresh", newAccess: "fresh"}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "r-1")

	resp, err := c.Do(context.Background(), get())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.EqualValues(t, 2, b.dataCalls.Load())
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, b.lastAuth)
	assert.Equal(t, "r-1", b.refreshBody.Refresh)

	v, _ := store.Get(tokenstore.AccessTokenKey)
	assert.Equal(t, "fresh", v)
	r, _ := store.Get(tokenstore.RefreshTokenKey)
	assert.Equal(t, "r-1", r)
	assert.Equal(t, StateNormal, c.State())
}

func TestDo_ReplayedBodyIsIntact(t *testing.T) {
	var bodies []string
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":"fresh"}`))
	})
	mux.HandleFunc("/thesis/", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := tokenstore.NewMemory()
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "r")
	c := New(srv.URL, store, quietLogger())

	resp, err := c.Do(context.Background(), &Request{
		Method:    http.MethodPost,
		Path:      "/thesis/",
		Multipart: NewMultipart().Field("title", "x").File("pdf_file", "a.pdf", "application/pdf", strings.NewReader("PDFDATA")),
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.Contains(t, bodies[1], "PDFDATA")
}

func TestDo_ReplayRejectedAgainPassesThrough(t *testing.T) {
	b := &backend{newAccess: "fresh", alwaysReject: true}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "r-1")

	resp, err := c.Do(context.Background(), get())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.EqualValues(t, 2, b.dataCalls.Load())
}

func TestDo_RefreshRejectedClearsSession(t *testing.T) {
	b := &backend{refreshCode: http.StatusUnauthorized}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "revoked")

	var expired []error
	c.OnSessionExpired(func(err error) { expired = append(expired, err) })

	resp, err := c.Do(context.Background(), get())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrSessionExpired)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	_, ok := store.Get(tokenstore.AccessTokenKey)
	assert.False(t, ok)
	_, ok = store.Get(tokenstore.RefreshTokenKey)
	assert.False(t, ok)

	assert.Len(t, expired, 1)
	assert.Equal(t, StateFailed, c.State())
	assert.EqualValues(t, 1, b.dataCalls.Load())

	c.Reset()
	assert.Equal(t, StateNormal, c.State())
}

func TestDo_NoRefreshToken(t *testing.T) {
	b := &backend{valid: "x"}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "stale")

	var expired int
	unsubscribe := c.OnSessionExpired(func(error) { expired++ })

	_, err := c.Do(context.Background(), get())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.EqualValues(t, 0, b.refreshCalls.Load())

	_, ok := store.Get(tokenstore.AccessTokenKey)
	assert.False(t, ok)
	assert.Equal(t, 1, expired)

	unsubscribe()
	store.Set(tokenstore.AccessTokenKey, "stale")
	_, _ = c.Do(context.Background(), get())
	assert.Equal(t, 1, expired)
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	b := &backend{valid: "fresh", newAccess: "fresh", refreshDelay: 100 * time.Millisecond}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "r-1")

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Do(context.Background(), get())
			errs[i] = err
			if resp != nil {
				codes[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, codes[i])
	}
	assert.EqualValues(t, 1, b.refreshCalls.Load())
}

func TestDo_TimeoutSurfacesUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	store := tokenstore.NewMemory()
	store.Set(tokenstore.AccessTokenKey, "tok")
	store.Set(tokenstore.RefreshTokenKey, "r")
	c := New(srv.URL, store, quietLogger(), WithTimeout(20*time.Millisecond))

	_, err := c.Do(context.Background(), get())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.NotErrorIs(t, err, ErrSessionExpired)

	_, ok := store.Get(tokenstore.AccessTokenKey)
	assert.True(t, ok)
	assert.Equal(t, StateNormal, c.State())
}

func TestDo_NonAuthErrorsPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, tokenstore.NewMemory(), quietLogger())
	resp, err := c.Do(context.Background(), get())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NORMAL", StateNormal.String())
	assert.Equal(t, "REFRESHING", StateRefreshing.String())
	assert.Equal(t, "FAILED", StateFailed.String())
}

func TestDo_AbsoluteForeignURLGetsNoToken(t *testing.T) {
	var auth string
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer media.Close()

	store := tokenstore.NewMemory()
	store.Set(tokenstore.AccessTokenKey, "tok")
	c := New("http://api.invalid", store, quietLogger())

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: media.URL + "/theses/a.pdf"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, auth)
}

func TestDo_ForeignUnauthorizedKeepsSession(t *testing.T) {
	var auth []string
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer media.Close()

	b := &backend{refreshCode: http.StatusUnauthorized}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "tok")
	store.Set(tokenstore.RefreshTokenKey, "ref")

	expired := 0
	c.OnSessionExpired(func(error) { expired++ })

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: media.URL + "/theses/a.pdf"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{""}, auth)
	assert.EqualValues(t, 0, b.refreshCalls.Load())
	assert.Equal(t, 0, expired)
	assert.Equal(t, StateNormal, c.State())

	access, ok := store.Get(tokenstore.AccessTokenKey)
	assert.True(t, ok)
	assert.Equal(t, "tok", access)
}

func TestDo_ExpiredSessionNotifiesOnce(t *testing.T) {
	b := &backend{refreshCode: http.StatusUnauthorized}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "revoked")

	expired := 0
	c.OnSessionExpired(func(error) { expired++ })

	_, err := c.Do(context.Background(), get())
	require.ErrorIs(t, err, ErrSessionExpired)

	// later requests from the same session keep failing without a new event
	for i := 0; i < 3; i++ {
		_, err = c.Do(context.Background(), get())
		require.ErrorIs(t, err, ErrSessionExpired)
	}

	assert.Equal(t, 1, expired)
	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.Equal(t, StateFailed, c.State())

	// a fresh login revives the flow
	c.Reset()
	store.Set(tokenstore.AccessTokenKey, "stale")
	store.Set(tokenstore.RefreshTokenKey, "revoked-again")
	_, err = c.Do(context.Background(), get())
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 2, expired)
	assert.EqualValues(t, 2, b.refreshCalls.Load())
}

func TestDo_AnonymousRequestSkipsRefresh(t *testing.T) {
	b := &backend{valid: "tok-1"}
	c, store := setup(t, b)
	store.Set(tokenstore.AccessTokenKey, "tok-1")
	store.Set(tokenstore.RefreshTokenKey, "ref-1")

	expired := 0
	c.OnSessionExpired(func(error) { expired++ })

	req := get()
	req.Anonymous = true
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{""}, b.lastAuth)
	assert.EqualValues(t, 0, b.refreshCalls.Load())
	assert.Equal(t, 0, expired)
	assert.Equal(t, StateNormal, c.State())

	access, _ := store.Get(tokenstore.AccessTokenKey)
	assert.Equal(t, "tok-1", access)
}
