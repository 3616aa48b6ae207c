package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// ChromeSession drives a Chrome/Chromium tab through chromedp.
// Requires Chrome/Chromium to be installed on the system.
type ChromeSession struct {
	ctx           context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	opts          Options
	closed        bool
}

// NewChromeLauncher returns a Launcher that starts Chrome with opts.
func NewChromeLauncher(opts Options) Launcher {
	return func(ctx context.Context) (Session, error) {
		return NewChrome(ctx, opts)
	}
}

// NewChrome starts a browser process and opens one tab.
func NewChrome(ctx context.Context, opts Options) (*ChromeSession, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser now so launch failures surface here rather than on first use.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, &Error{Op: "launch", Message: "failed to start browser", Cause: err}
	}

	if opts.Verbose {
		slog.Debug("browser started", "headless", opts.Headless)
	}

	return &ChromeSession{
		ctx:           browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		opts:          opts,
	}, nil
}

// run executes actions in the tab, bounded by timeout and by the caller's ctx.
func (s *ChromeSession) run(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	if s.closed {
		return &Error{Op: op, Message: "session is closed"}
	}
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}

	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return &Error{Op: op, Message: "action failed", Cause: err}
	}
	return nil
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if s.opts.Verbose {
		slog.Debug("navigating", "url", url)
	}
	return s.run(ctx, "navigate", 0,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *ChromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, "wait", timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *ChromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, "exists", 0, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// Click uses a script click, which works on controls covered by sticky headers.
func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return &Error{Op: "click", Message: "invalid selector", Cause: err}
	}

	var clicked bool
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) { return false; }
		el.scrollIntoView();
		el.click();
		return true;
	})()`, quoted)

	if err := s.run(ctx, "click", 0, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return &Error{Op: "click", Message: fmt.Sprintf("no element matches %q", selector)}
	}
	return nil
}

func (s *ChromeSession) Scroll(ctx context.Context, y int) error {
	script := fmt.Sprintf("window.scrollTo(0, %d); true", y)
	if y < 0 {
		script = "window.scrollTo(0, document.body.scrollHeight); true"
	}
	var ok bool
	return s.run(ctx, "scroll", 0, chromedp.Evaluate(script, &ok))
}

func (s *ChromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, "snapshot", 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	if s.opts.Verbose {
		slog.Debug("page snapshot", "bytes", len(html))
	}
	return html, nil
}

func (s *ChromeSession) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, "screenshot", 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return &Error{Op: "screenshot", Message: "failed to write file", Cause: err}
	}
	return nil
}

// Close shuts the tab and the browser process. It is safe to call more than once.
func (s *ChromeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// Give Chrome a moment to exit cleanly before the allocator is torn down.
	closeCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	err := chromedp.Cancel(closeCtx)

	s.cancelBrowser()
	s.cancelAlloc()

	if err != nil && err != context.Canceled {
		return &Error{Op: "close", Message: "browser did not shut down cleanly", Cause: err}
	}
	return nil
}
