package cdp

import (
	"context"
	"testing"
	"time"

	"domtrace/internal/devtoolstest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// connect dials a scripted peer and returns an unstarted channel to it.
func connect(t *testing.T, script devtoolstest.Script) *Channel {
	t.Helper()
	peer := devtoolstest.NewPeer(t, script)

	conn, err := Dial(context.Background(), peer.URL(), time.Second)
	require.NoError(t, err)

	ch := NewChannel(conn, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}
