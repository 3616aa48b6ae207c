package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ReplaySession serves previously saved listing pages instead of a live site.
// Pages are read in lexical order (page-1.html, page-2.html, ...); clicking
// the next selector advances to the following page. On the last page the
// next selector never matches, so pagination ends there.
type ReplaySession struct {
	next    string
	pages   []string
	current int
	doc     *goquery.Document
	html    string
	closed  bool
}

// NewReplayLauncher returns a Launcher that replays the *.html files in dir.
func NewReplayLauncher(dir, next string) Launcher {
	return func(_ context.Context) (Session, error) {
		return NewReplay(dir, next)
	}
}

// NewReplay creates a replay session over the *.html files in dir.
func NewReplay(dir, next string) (*ReplaySession, error) {
	pages, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, &Error{Op: "launch", Message: "invalid replay directory", Cause: err}
	}
	if len(pages) == 0 {
		return nil, &Error{Op: "launch", Message: fmt.Sprintf("no .html pages in %s", dir)}
	}
	sort.Strings(pages)
	return &ReplaySession{next: next, pages: pages, current: -1}, nil
}

// NewReplayFromHTML creates a replay session over in-memory pages.
func NewReplayFromHTML(next string, pages ...string) *ReplaySession {
	s := &ReplaySession{next: next, current: -1}
	for _, p := range pages {
		s.pages = append(s.pages, "inline:"+p)
	}
	return s
}

func (s *ReplaySession) load(index int) error {
	var html string
	page := s.pages[index]
	if inline, ok := strings.CutPrefix(page, "inline:"); ok {
		html = inline
	} else {
		data, err := os.ReadFile(page)
		if err != nil {
			return &Error{Op: "navigate", Message: "failed to read page", Cause: err}
		}
		html = string(data)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return &Error{Op: "navigate", Message: "failed to parse page", Cause: err}
	}
	s.current = index
	s.doc = doc
	s.html = html
	return nil
}

func (s *ReplaySession) ready(op string) error {
	if s.closed {
		return &Error{Op: op, Message: "session is closed"}
	}
	if s.doc == nil {
		return &Error{Op: op, Message: "no page loaded"}
	}
	return nil
}

// Navigate always loads the first saved page.
func (s *ReplaySession) Navigate(ctx context.Context, _ string) error {
	if s.closed {
		return &Error{Op: "navigate", Message: "session is closed"}
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: "navigate", Message: "cancelled", Cause: err}
	}
	return s.load(0)
}

// WaitVisible succeeds immediately if selector matches, and fails otherwise;
// a saved page never changes so there is nothing to wait for.
func (s *ReplaySession) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	ok, err := s.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Op: "wait", Message: fmt.Sprintf("timed out waiting for %q", selector)}
	}
	return nil
}

func (s *ReplaySession) Exists(_ context.Context, selector string) (bool, error) {
	if err := s.ready("exists"); err != nil {
		return false, err
	}
	if selector == s.next && s.current+1 >= len(s.pages) {
		return false, nil
	}
	return s.doc.Find(selector).Length() > 0, nil
}

// Click advances to the next saved page for the next selector. Any other
// matching selector (a cookie banner, say) leaves the page unchanged.
func (s *ReplaySession) Click(ctx context.Context, selector string) error {
	ok, err := s.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Op: "click", Message: fmt.Sprintf("no element matches %q", selector)}
	}
	if selector != s.next {
		return nil
	}
	return s.load(s.current + 1)
}

func (s *ReplaySession) Scroll(_ context.Context, _ int) error {
	return s.ready("scroll")
}

func (s *ReplaySession) HTML(_ context.Context) (string, error) {
	if err := s.ready("snapshot"); err != nil {
		return "", err
	}
	return s.html, nil
}

// Screenshot is a no-op; replayed pages are already on disk.
func (s *ReplaySession) Screenshot(_ context.Context, _ string) error {
	return s.ready("screenshot")
}

func (s *ReplaySession) Close() error {
	s.closed = true
	return nil
}

// Page returns the zero-based index of the loaded page, or -1.
func (s *ReplaySession) Page() int {
	return s.current
}

// Closed reports whether Close has been called.
func (s *ReplaySession) Closed() bool {
	return s.closed
}
