package debugger_test

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"domtrace/internal/config"
	"domtrace/internal/debugger"
	"domtrace/internal/devtoolstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var listed = []devtoolstest.Target{
	{ID: "A", Type: "page", Title: "Welcome", URL: "https://welcome.test/", WebSocketDebuggerUrl: "ws://127.0.0.1/devtools/page/A"},
	{ID: "B", Type: "page", Title: "Project - workbench", URL: "app://main.html", WebSocketDebuggerUrl: "ws://127.0.0.1/devtools/page/B"},
	{ID: "C", Type: "page", Title: "Editor", URL: "vscode-file://x/workbench.html", WebSocketDebuggerUrl: "ws://127.0.0.1/devtools/page/C"},
}

func newDebugger(t *testing.T, l *devtoolstest.Listing) *debugger.ChromeDebugger {
	return debugger.NewChromeDebugger(config.EndpointConfig{
		Host:     l.Host(),
		Port:     l.Port(),
		ListPath: "/json/list",
		Timeout:  2 * time.Second,
	}, zaptest.NewLogger(t))
}

func TestGetDebuggingTargets(t *testing.T) {
	l := devtoolstest.NewListing(t, listed, 0)

	targets, err := newDebugger(t, l).GetDebuggingTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, debugger.DebuggingTarget{
		ID:                   "B",
		Type:                 "page",
		Title:                "Project - workbench",
		URL:                  "app://main.html",
		WebSocketDebuggerUrl: "ws://127.0.0.1/devtools/page/B",
	}, targets[1])
}

func TestFindTarget_FirstMatchInListingOrder(t *testing.T) {
	l := devtoolstest.NewListing(t, listed, 0)
	d := newDebugger(t, l)

	match := debugger.AnyOf(debugger.URLContains("workbench.html"), debugger.TitleContains("workbench"))
	target, err := d.FindTarget(context.Background(), match)
	require.NoError(t, err)
	assert.Equal(t, "B", target.ID, "B matches by title before C matches by URL")

	target, err = d.FindTarget(context.Background(), debugger.URLContains("workbench.html"))
	require.NoError(t, err)
	assert.Equal(t, "C", target.ID)
}

func TestFindTarget_NoMatch(t *testing.T) {
	l := devtoolstest.NewListing(t, listed, 0)

	_, err := newDebugger(t, l).FindTarget(context.Background(), debugger.TitleContains("cascade"))
	assert.ErrorIs(t, err, debugger.ErrNoTarget)
}

func TestFindTarget_EmptyListing(t *testing.T) {
	l := devtoolstest.NewListing(t, nil, 0)

	_, err := newDebugger(t, l).FindTarget(context.Background(), debugger.URLContains("workbench.html"))
	assert.ErrorIs(t, err, debugger.ErrNoTarget)
}

func TestGetDebuggingTargets_Failures(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		l := devtoolstest.NewListing(t, listed, http.StatusServiceUnavailable)
		_, err := newDebugger(t, l).GetDebuggingTargets(context.Background())
		assert.Error(t, err)
	})

	t.Run("nothing listening", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		d := debugger.NewChromeDebugger(config.EndpointConfig{
			Host: "127.0.0.1", Port: port, ListPath: "/json/list", Timeout: time.Second,
		}, zaptest.NewLogger(t))
		_, err = d.GetDebuggingTargets(context.Background())
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		l := devtoolstest.NewListing(t, listed, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newDebugger(t, l).GetDebuggingTargets(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMatchers(t *testing.T) {
	target := debugger.DebuggingTarget{Title: "Project - workbench", URL: "app://main.html"}

	assert.True(t, debugger.TitleContains("workbench")(target))
	assert.False(t, debugger.URLContains("workbench")(target))
	assert.False(t, debugger.URLContains("")(target), "empty marker matches nothing")
	assert.False(t, debugger.TitleContains("")(target), "empty marker matches nothing")
	assert.True(t, debugger.AnyOf(debugger.URLContains("nope"), debugger.TitleContains("Project"))(target))
	assert.False(t, debugger.AnyOf()(target))
}
