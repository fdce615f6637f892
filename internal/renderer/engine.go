// Package renderer drives headless Chrome to turn generated card
// documents into PNG screenshots. One shared browser is created lazily
// and a small pool of tabs is reused across renders.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

// Config controls engine behavior.
type Config struct {
	PoolSize int
	Timeout  time.Duration
	Settle   time.Duration
}

// browserHandle owns the allocator and browser contexts of one Chrome
// process.
type browserHandle struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCancel context.CancelFunc
}

func (h *browserHandle) close() {
	h.cancel()
	h.allocatorCancel()
}

// session is an exclusive-use tab: either idle in the pool or checked
// out by exactly one render.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) close() {
	s.cancel()
}

func (s *session) alive() bool {
	return s.ctx.Err() == nil
}

// Engine is the shared render engine. Construction is cheap; the
// browser starts on first use and is recreated if observed dead.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	browser *browserHandle
	pool    chan *session

	// Seams for tests; production wiring uses the chromedp defaults.
	startBrowser func(ctx context.Context) (*browserHandle, error)
	openSession  func(browserCtx context.Context) (*session, error)
	capture      func(ctx context.Context, doc review.Document, width, height int) ([]byte, error)
}

// New builds an Engine. No browser is started until the first render.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 400 * time.Millisecond
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		pool:   make(chan *session, cfg.PoolSize),
	}
	e.startBrowser = startChromeBrowser
	e.openSession = openChromeTab
	e.capture = e.captureChrome
	return e
}

// Render loads doc into a pooled tab sized to width x height and
// screenshots the designated element. The whole call is bounded by the
// configured timeout; a failed render never poisons the pool.
func (e *Engine) Render(ctx context.Context, doc review.Document, width, height int) ([]byte, error) {
	start := time.Now()
	png, err := e.render(ctx, doc, width, height)
	switch {
	case err == nil:
		telemetry.ObserveRender("ok", time.Since(start))
	case review.CodeOf(err) == review.CodeRenderTimeout:
		telemetry.ObserveRender("timeout", time.Since(start))
	default:
		telemetry.ObserveRender("error", time.Since(start))
	}
	return png, err
}

func (e *Engine) render(ctx context.Context, doc review.Document, width, height int) ([]byte, error) {
	browserCtx, err := e.ensureBrowser(ctx)
	if err != nil {
		return nil, review.WrapError(review.CodeRenderFailed, "start render engine", err)
	}

	sess, err := e.checkout(browserCtx)
	if err != nil {
		return nil, review.WrapError(review.CodeRenderFailed, "open rendering session", err)
	}

	taskCtx, cancelTask := context.WithTimeout(sess.ctx, e.cfg.Timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	png, err := e.capture(taskCtx, doc, width, height)
	if err != nil {
		// A timed-out or failed tab is torn down, never pooled.
		sess.close()
		e.publishIdle()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return nil, review.WrapError(review.CodeRenderTimeout, "render exceeded deadline", err)
		}
		return nil, review.WrapError(review.CodeRenderFailed, "render document", err)
	}

	e.checkin(sess)
	return png, nil
}

// ensureBrowser returns a live browser context, creating the browser at
// most once across concurrent callers.
func (e *Engine) ensureBrowser(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	if e.browser != nil && e.browser.ctx.Err() == nil {
		browserCtx := e.browser.ctx
		e.mu.Unlock()
		return browserCtx, nil
	}
	e.mu.Unlock()

	result, err, _ := e.group.Do("browser", func() (any, error) {
		e.mu.Lock()
		if e.browser != nil && e.browser.ctx.Err() == nil {
			browserCtx := e.browser.ctx
			e.mu.Unlock()
			return browserCtx, nil
		}
		stale := e.browser
		e.browser = nil
		e.mu.Unlock()

		if stale != nil {
			e.logger.Warn("render engine disconnected, recreating")
			e.drainPool()
			stale.close()
		}

		handle, err := e.startBrowser(ctx)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.browser = handle
		e.mu.Unlock()
		e.logger.Info("render engine started")
		return handle.ctx, nil
	})
	if err != nil {
		return nil, err
	}
	browserCtx, ok := result.(context.Context)
	if !ok {
		return nil, fmt.Errorf("unexpected engine result type %T", result)
	}
	return browserCtx, nil
}

// checkout pops an idle live session or opens a fresh tab.
func (e *Engine) checkout(browserCtx context.Context) (*session, error) {
	for {
		select {
		case sess := <-e.pool:
			e.publishIdle()
			if sess.alive() {
				return sess, nil
			}
			sess.close()
		default:
			return e.openSession(browserCtx)
		}
	}
}

// checkin returns a session to the pool, or tears it down at capacity.
func (e *Engine) checkin(sess *session) {
	if !sess.alive() {
		sess.close()
		return
	}
	select {
	case e.pool <- sess:
	default:
		sess.close()
	}
	e.publishIdle()
}

func (e *Engine) drainPool() {
	for {
		select {
		case sess := <-e.pool:
			sess.close()
		default:
			e.publishIdle()
			return
		}
	}
}

func (e *Engine) publishIdle() {
	telemetry.SetIdleSessions(len(e.pool))
}

// Health reports engine connectivity without side effects: it never
// starts a browser.
func (e *Engine) Health(_ context.Context) review.HealthStatus {
	e.mu.Lock()
	browser := e.browser
	e.mu.Unlock()

	if browser == nil {
		return review.HealthDegraded
	}
	if browser.ctx.Err() != nil {
		return review.HealthUnhealthy
	}

	probeCtx, cancel := context.WithTimeout(browser.ctx, 2*time.Second)
	defer cancel()
	if _, err := chromedp.Targets(probeCtx); err != nil {
		return review.HealthUnhealthy
	}
	return review.HealthHealthy
}

// Close tears down pooled sessions and the browser.
func (e *Engine) Close(_ context.Context) error {
	e.drainPool()
	e.mu.Lock()
	browser := e.browser
	e.browser = nil
	e.mu.Unlock()
	if browser != nil {
		browser.close()
	}
	return nil
}

func startChromeBrowser(_ context.Context) (*browserHandle, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &browserHandle{
		ctx:             browserCtx,
		cancel:          browserCancel,
		allocatorCancel: allocatorCancel,
	}, nil
}

func openChromeTab(browserCtx context.Context) (*session, error) {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	// Materialize the target so a dead browser fails here, not mid-render.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &session{ctx: tabCtx, cancel: cancelTab}, nil
}

// captureChrome installs the document, waits for the card element and
// the font settling delay, then screenshots the element.
func (e *Engine) captureChrome(ctx context.Context, doc review.Document, width, height int) ([]byte, error) {
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate("about:blank"),
		setDocumentContent(doc.HTML),
		chromedp.WaitVisible(doc.Selector, chromedp.ByQuery),
		chromedp.Sleep(e.cfg.Settle),
		chromedp.Screenshot(doc.Selector, &png, chromedp.NodeVisible, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return png, nil
}

func setDocumentContent(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		frameTree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		if err := page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx); err != nil {
			return fmt.Errorf("set document content: %w", err)
		}
		return nil
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
