package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pageOne = `<html><body><div id="banner">ok</div><ul><li class="item">A</li></ul><a class="next">Next</a></body></html>`
	pageTwo = `<html><body><ul><li class="item">B</li></ul><a class="next">Next</a></body></html>`
)

func TestReplay_PaginatesThroughPages(t *testing.T) {
	ctx := context.Background()
	s := NewReplayFromHTML("a.next", pageOne, pageTwo)

	require.NoError(t, s.Navigate(ctx, "https://example.org"))
	assert.Equal(t, 0, s.Page())

	ok, err := s.Exists(ctx, "a.next")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Click(ctx, "a.next"))
	assert.Equal(t, 1, s.Page())

	html, err := s.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, ">B<")

	// The saved last page still has a next link, but there is nowhere to go.
	ok, err = s.Exists(ctx, "a.next")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, s.Click(ctx, "a.next"))
}

func TestReplay_BannerClickDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	s := NewReplayFromHTML("a.next", pageOne, pageTwo)
	require.NoError(t, s.Navigate(ctx, ""))

	require.NoError(t, s.Click(ctx, "#banner"))
	assert.Equal(t, 0, s.Page())
}

func TestReplay_WaitVisible(t *testing.T) {
	ctx := context.Background()
	s := NewReplayFromHTML("a.next", pageOne)
	require.NoError(t, s.Navigate(ctx, ""))

	assert.NoError(t, s.WaitVisible(ctx, "li.item", 0))

	err := s.WaitVisible(ctx, ".missing", 0)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "wait", berr.Op)
}

func TestReplay_RequiresNavigateAndRejectsAfterClose(t *testing.T) {
	ctx := context.Background()
	s := NewReplayFromHTML("a.next", pageOne)

	_, err := s.HTML(ctx)
	assert.Error(t, err)

	require.NoError(t, s.Navigate(ctx, ""))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	assert.Error(t, s.Scroll(ctx, ScrollBottom))
	assert.Error(t, s.Navigate(ctx, ""))
}

func TestReplay_NavigateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewReplayFromHTML("a.next", pageOne)
	assert.ErrorIs(t, s.Navigate(ctx, ""), context.Canceled)
}

func TestNewReplay_ReadsDirectoryInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-2.html"), []byte(pageTwo), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-1.html"), []byte(pageOne), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	launch := NewReplayLauncher(dir, "a.next")
	sess, err := launch(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Navigate(ctx, ""))
	html, err := sess.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, ">A<")
}

func TestNewReplay_EmptyDirectory(t *testing.T) {
	_, err := NewReplay(t.TempDir(), "a.next")
	assert.Error(t, err)
}
