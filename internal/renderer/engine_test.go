package renderer

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

type fakeBackend struct {
	mu            sync.Mutex
	browserStarts int
	sessionOpens  int

	browserCancel context.CancelFunc

	captureErr   error
	capturePNG   []byte
	captureDelay time.Duration
}

func (f *fakeBackend) start(_ context.Context) (*browserHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browserStarts++
	ctx, cancel := context.WithCancel(context.Background())
	f.browserCancel = cancel
	return &browserHandle{ctx: ctx, cancel: cancel, allocatorCancel: func() {}}, nil
}

func (f *fakeBackend) open(browserCtx context.Context) (*session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionOpens++
	ctx, cancel := context.WithCancel(browserCtx)
	return &session{ctx: ctx, cancel: cancel}, nil
}

func (f *fakeBackend) doCapture(ctx context.Context, _ review.Document, _, _ int) ([]byte, error) {
	f.mu.Lock()
	err := f.captureErr
	png := f.capturePNG
	delay := f.captureDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return png, nil
}

func (f *fakeBackend) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.browserStarts
}

func (f *fakeBackend) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionOpens
}

func newTestEngine(poolSize int) (*Engine, *fakeBackend) {
	backend := &fakeBackend{capturePNG: []byte("png-bytes")}
	engine := New(Config{PoolSize: poolSize, Timeout: time.Second, Settle: time.Millisecond}, zap.NewNop())
	engine.startBrowser = backend.start
	engine.openSession = backend.open
	engine.capture = backend.doCapture
	return engine, backend
}

var testDoc = review.Document{HTML: "<html></html>", Selector: "#card"}

func TestRenderReusesPooledSession(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(2)
	defer engine.Close(context.Background())

	for range 3 {
		png, err := engine.Render(context.Background(), testDoc, 1080, 1080)
		require.NoError(t, err)
		require.Equal(t, []byte("png-bytes"), png)
	}

	require.Equal(t, 1, backend.starts())
	require.Equal(t, 1, backend.opens())
}

func TestRenderFailureDiscardsSession(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(2)
	defer engine.Close(context.Background())

	backend.mu.Lock()
	backend.captureErr = errors.New("target crashed")
	backend.mu.Unlock()

	_, err := engine.Render(context.Background(), testDoc, 1080, 1080)
	require.Equal(t, review.CodeRenderFailed, review.CodeOf(err))

	backend.mu.Lock()
	backend.captureErr = nil
	backend.mu.Unlock()

	_, err = engine.Render(context.Background(), testDoc, 1080, 1080)
	require.NoError(t, err)
	require.Equal(t, 2, backend.opens())
}

func TestRenderTimeoutCode(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(1)
	defer engine.Close(context.Background())
	engine.cfg.Timeout = 20 * time.Millisecond

	backend.mu.Lock()
	backend.captureDelay = time.Second
	backend.mu.Unlock()

	_, err := engine.Render(context.Background(), testDoc, 1080, 1080)
	require.Equal(t, review.CodeRenderTimeout, review.CodeOf(err))
}

func TestEngineRecreatesDeadBrowser(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(2)
	defer engine.Close(context.Background())

	_, err := engine.Render(context.Background(), testDoc, 1080, 1080)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.browserCancel()
	backend.mu.Unlock()

	_, err = engine.Render(context.Background(), testDoc, 1080, 1080)
	require.NoError(t, err)
	require.Equal(t, 2, backend.starts())
	// The tab pooled before the crash was abandoned with the browser.
	require.Equal(t, 2, backend.opens())
}

func TestConcurrentRendersShareOneBrowser(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(5)
	defer engine.Close(context.Background())

	backend.mu.Lock()
	backend.captureDelay = 10 * time.Millisecond
	backend.mu.Unlock()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Render(context.Background(), testDoc, 1080, 1080)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, backend.starts())
}

func TestCheckinRespectsPoolCapacity(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(1)
	defer engine.Close(context.Background())

	browserCtx, err := engine.ensureBrowser(context.Background())
	require.NoError(t, err)

	first, err := engine.openSession(browserCtx)
	require.NoError(t, err)
	second, err := engine.openSession(browserCtx)
	require.NoError(t, err)

	engine.checkin(first)
	engine.checkin(second)

	require.True(t, first.alive())
	require.False(t, second.alive())
	require.Equal(t, 2, backend.opens())
}

func TestHealthBeforeStart(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(1)
	defer engine.Close(context.Background())

	require.Equal(t, review.HealthDegraded, engine.Health(context.Background()))
}

func TestHealthDeadBrowser(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(1)
	defer engine.Close(context.Background())

	_, err := engine.Render(context.Background(), testDoc, 1080, 1080)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.browserCancel()
	backend.mu.Unlock()

	require.Equal(t, review.HealthUnhealthy, engine.Health(context.Background()))
}

func TestCallerCancelStopsRender(t *testing.T) {
	t.Parallel()

	engine, backend := newTestEngine(1)
	defer engine.Close(context.Background())

	backend.mu.Lock()
	backend.captureDelay = time.Second
	backend.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := engine.Render(ctx, testDoc, 1080, 1080)
	require.Error(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
