package widget

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payflow/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = "window.checkout = {}"

func scriptServer(t *testing.T, code int, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(code)
		w.Write([]byte(script))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func installAll(_ context.Context, page *Page) error {
	page.Set(OpenWidget, func() {})
	page.Set(AddSuccessListener, func() {})
	page.Set(AddFailedListener, func() {})
	return nil
}

func fastConfig(url string) Config {
	return Config{
		ScriptURL:    url,
		ReadyTimeout: 200 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func TestLoader_EnsureLoaded_Success(t *testing.T) {
	var hits int32
	srv := scriptServer(t, http.StatusOK, &hits)

	page := NewPage()
	l := NewLoader(fastConfig(srv.URL), page, installAll, nil)

	assert.False(t, l.Ready())
	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.True(t, l.Ready())
	assert.Equal(t, []string{srv.URL}, page.Scripts())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestLoader_EnsureLoaded_Idempotent(t *testing.T) {
	var hits int32
	srv := scriptServer(t, http.StatusOK, &hits)

	l := NewLoader(fastConfig(srv.URL), NewPage(), installAll, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.EnsureLoaded(context.Background()))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestLoader_EnsureLoaded_ConcurrentCallersShareOneInsert(t *testing.T) {
	var hits int32
	srv := scriptServer(t, http.StatusOK, &hits)

	// entry points appear a little after the script ran
	boot := func(ctx context.Context, page *Page) error {
		go func() {
			time.Sleep(30 * time.Millisecond)
			installAll(ctx, page)
		}()
		return nil
	}

	page := NewPage()
	l := NewLoader(fastConfig(srv.URL), page, boot, nil)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.EnsureLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Len(t, page.Scripts(), 1)
}

func TestLoader_EnsureLoaded_FetchFailureIsRetryable(t *testing.T) {
	var hits int32
	var code atomic.Int32
	code.Store(http.StatusBadGateway)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	page := NewPage()
	l := NewLoader(fastConfig(srv.URL), page, installAll, nil)

	err := l.EnsureLoaded(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrLoad)
	assert.False(t, l.Ready())
	assert.Empty(t, page.Scripts())

	code.Store(http.StatusOK)
	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.True(t, l.Ready())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestLoader_EnsureLoaded_ReadyTimeout(t *testing.T) {
	var hits int32
	srv := scriptServer(t, http.StatusOK, &hits)

	partial := func(_ context.Context, page *Page) error {
		page.Set(OpenWidget, func() {})
		return nil
	}

	page := NewPage()
	l := NewLoader(fastConfig(srv.URL), page, partial, nil)

	err := l.EnsureLoaded(context.Background())
	assert.ErrorIs(t, err, status.ErrLoad)
	assert.False(t, l.Ready())
	assert.Empty(t, page.Scripts())
}

func TestLoader_EnsureLoaded_Integrity(t *testing.T) {
	var hits int32
	srv := scriptServer(t, http.StatusOK, &hits)

	sum := sha512.Sum384([]byte(script))
	good := "sha384-" + base64.StdEncoding.EncodeToString(sum[:])

	cfg := fastConfig(srv.URL)
	cfg.Integrity = good
	require.NoError(t, NewLoader(cfg, NewPage(), installAll, nil).EnsureLoaded(context.Background()))

	cfg.Integrity = "sha384-AAAA"
	err := NewLoader(cfg, NewPage(), installAll, nil).EnsureLoaded(context.Background())
	assert.ErrorIs(t, err, status.ErrLoad)
}

func TestLoader_EnsureLoaded_AlreadyInstalled(t *testing.T) {
	page := NewPage()
	installAll(context.Background(), page)

	// no server: the script must not be fetched
	l := NewLoader(fastConfig("http://127.0.0.1:1/never"), page, nil, nil)
	require.NoError(t, l.EnsureLoaded(context.Background()))
	assert.True(t, l.Ready())
	assert.Empty(t, page.Scripts())
}
