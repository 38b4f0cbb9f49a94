// Package browser implements the automation capability on headless
// Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the behavior of the browser handle.
type Config struct {
	UserAgent  string
	Headless   bool
	NavTimeout time.Duration
}

// Handle owns one allocator and one tab. It implements watch.Browser.
// The session manager holds the only reference.
type Handle struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	navTimeout    time.Duration

	mu     sync.Mutex
	waiter *responseWaiter
}

type responseWaiter struct {
	urlPart string
	bodyCh  chan []byte
}

// New launches the browser and warms up the tab. One persistent
// network listener serves every later AwaitResponse call; chromedp
// listeners cannot be unregistered, so per-call registration would
// leak them on a long-lived tab.
func New(cfg Config, logger *zap.Logger) (*Handle, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	h := &Handle{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
		navTimeout:    cfg.NavTimeout,
	}
	chromedp.ListenTarget(browserCtx, h.onEvent)
	return h, nil
}

// Close tears down the tab and the allocator.
func (h *Handle) Close(_ context.Context) error {
	h.browserCancel()
	h.allocCancel()
	return nil
}

// Navigate loads a URL and waits for the document body.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	taskCtx, cancel := h.taskContext(ctx)
	defer cancel()
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Location returns the current page URL.
func (h *Handle) Location(ctx context.Context) (string, error) {
	taskCtx, cancel := h.taskContext(ctx)
	defer cancel()
	var loc string
	if err := chromedp.Run(taskCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// PageText returns the visible text of the current page body.
func (h *Handle) PageText(ctx context.Context) (string, error) {
	taskCtx, cancel := h.taskContext(ctx)
	defer cancel()
	var text string
	if err := chromedp.Run(taskCtx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return text, nil
}

// FillField clears the matched input and types the value into it.
func (h *Handle) FillField(ctx context.Context, selector, value string) error {
	taskCtx, cancel := h.taskContext(ctx)
	defer cancel()
	err := chromedp.Run(taskCtx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Submit clicks the matched element and waits for the resulting
// navigation to settle.
func (h *Handle) Submit(ctx context.Context, selector string) error {
	taskCtx, cancel := h.taskContext(ctx)
	defer cancel()
	err := chromedp.Run(taskCtx,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("submit %s: %w", selector, err)
	}
	return nil
}

// Probe runs a trivial evaluation; an error means the tab is dead.
func (h *Handle) Probe(ctx context.Context) error {
	taskCtx, cancel := context.WithTimeout(h.browserCtx, 5*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var one int
	if err := chromedp.Run(taskCtx, chromedp.Evaluate("1", &one)); err != nil {
		return fmt.Errorf("liveness probe: %w", err)
	}
	return nil
}

// AwaitResponse arms the response waiter for urlPart, runs trigger,
// and waits for the matching response body, the window to elapse, or
// ctx cancellation, whichever comes first.
func (h *Handle) AwaitResponse(
	ctx context.Context,
	urlPart string,
	window time.Duration,
	trigger func(context.Context) error,
) ([]byte, bool, error) {
	w := &responseWaiter{
		urlPart: urlPart,
		bodyCh:  make(chan []byte, 1),
	}
	h.mu.Lock()
	if h.waiter != nil {
		h.mu.Unlock()
		return nil, false, fmt.Errorf("response wait already in progress")
	}
	h.waiter = w
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.waiter = nil
		h.mu.Unlock()
	}()

	if err := trigger(ctx); err != nil {
		return nil, false, fmt.Errorf("trigger refresh: %w", err)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case body := <-w.bodyCh:
		return body, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		// A caller deadline racing the window is still a quiet window,
		// not a session failure. Only cancellation aborts the wait.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, ctx.Err()
	}
}

// Evaluate runs a script in the page and discards the result.
func (h *Handle) Evaluate(ctx context.Context, script string) error {
	taskCtx, cancel := h.taskContext(ctx)
	defer cancel()
	var ignored any
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(script, &ignored)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (h *Handle) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok {
		return
	}
	h.mu.Lock()
	w := h.waiter
	h.mu.Unlock()
	if w == nil || !strings.Contains(resp.Response.URL, w.urlPart) {
		return
	}

	// Body retrieval must not block the event dispatch loop.
	requestID := resp.RequestID
	go func() {
		var body []byte
		err := chromedp.Run(h.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var bodyErr error
			body, bodyErr = network.GetResponseBody(requestID).Do(ctx)
			return bodyErr
		}))
		if err != nil {
			h.logger.Warn("response body retrieval failed",
				zap.String("url", resp.Response.URL),
				zap.Error(err),
			)
			return
		}
		select {
		case w.bodyCh <- body:
		default:
		}
	}()
}

func (h *Handle) taskContext(parent context.Context) (context.Context, context.CancelFunc) {
	taskCtx, cancel := context.WithTimeout(h.browserCtx, h.navTimeout)
	stop := forwardCancel(parent, cancel)
	return taskCtx, func() {
		stop()
		cancel()
	}
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
