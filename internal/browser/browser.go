// Package browser provides the page-level capabilities the scrapers drive:
// navigate, wait, scroll, snapshot and click. A Session is a scoped resource;
// callers must Close it on every exit path.
package browser

import (
	"context"
	"fmt"
	"time"
)

// Session is one controlled browser tab. Every method may fail or time out.
type Session interface {
	// Navigate loads url in the tab.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until selector is visible or timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Exists reports whether selector currently matches at least one node.
	Exists(ctx context.Context, selector string) (bool, error)
	// Click scrolls the first node matching selector into view and clicks it.
	Click(ctx context.Context, selector string) error
	// Scroll scrolls to y pixels, or to the bottom of the page when y < 0.
	Scroll(ctx context.Context, y int) error
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	// Screenshot writes a PNG of the current viewport to path.
	Screenshot(ctx context.Context, path string) error
	// Close releases the tab and the browser process.
	Close() error
}

// ScrollBottom passed to Session.Scroll scrolls to the end of the document.
const ScrollBottom = -1

// Options configures a browser launch.
type Options struct {
	Headless  bool
	UserAgent string
	// Timeout bounds any single call that has no explicit timeout.
	Timeout time.Duration
	Verbose bool
}

// DefaultOptions returns sensible defaults for scraping.
func DefaultOptions() Options {
	return Options{
		Headless: true,
		Timeout:  30 * time.Second,
	}
}

// Launcher opens a new Session.
type Launcher func(ctx context.Context) (Session, error)

// Error represents a failed browser operation.
type Error struct {
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("browser %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("browser %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
