package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPoolUnderTest(t *testing.T, discoverer Discoverer, dial DialFunc) *Pool {
	t.Helper()
	cfg := &Config{
		Domain: "corp.example",
		Connection: ConnectionConfig{
			Username: "svc@corp.example",
			Password: "secret",
		},
	}
	require.NoError(t, cfg.Validate())
	return NewPool(cfg, discoverer, NewDcInfoCache(), dial, zap.NewNop())
}

func TestPoolRediscoveryAfterConnectivityFailure(t *testing.T) {
	conn := &fakeConn{}
	discoverer := &fakeDiscoverer{rounds: [][]*ServerInfo{
		{serverNamed("dc1.corp.example")},
		{serverNamed("dc2.corp.example")},
	}}
	pool := newPoolUnderTest(t, discoverer, fakeDial(conn, "dc1.corp.example"))

	handle, err := pool.Borrow(context.Background(), "corp.example", false)
	require.NoError(t, err)
	defer handle.Release()

	assert.Equal(t, 2, discoverer.calls, "a dead first controller forces one rediscovery")
	assert.Equal(t, "dc2.corp.example", handle.Server().Host)
}

func TestPoolSecondFailureIsFatal(t *testing.T) {
	conn := &fakeConn{}
	discoverer := &fakeDiscoverer{rounds: [][]*ServerInfo{
		{serverNamed("dc1.corp.example")},
	}}
	pool := newPoolUnderTest(t, discoverer, fakeDial(conn, "dc1.corp.example"))

	_, err := pool.Borrow(context.Background(), "corp.example", false)
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))
	assert.Equal(t, 2, discoverer.calls, "exactly one forced rediscovery, no further retries")
}

func TestPoolReusesIdleConnection(t *testing.T) {
	conn := &fakeConn{}
	discoverer := &fakeDiscoverer{rounds: [][]*ServerInfo{
		{serverNamed("dc1.corp.example")},
	}}
	pool := newPoolUnderTest(t, discoverer, fakeDial(conn))

	handle, err := pool.Borrow(context.Background(), "corp.example", false)
	require.NoError(t, err)
	handle.Release()

	again, err := pool.Borrow(context.Background(), "corp.example", false)
	require.NoError(t, err)
	again.Release()

	assert.Equal(t, 1, discoverer.calls, "discovery result is cached across borrows")
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(2), stats.Borrowed)
}

func TestPoolKeysGlobalCatalogSeparately(t *testing.T) {
	conn := &fakeConn{}
	discoverer := &fakeDiscoverer{rounds: [][]*ServerInfo{
		{serverNamed("dc1.corp.example")},
	}}
	pool := newPoolUnderTest(t, discoverer, fakeDial(conn))

	domain, err := pool.Borrow(context.Background(), "corp.example", false)
	require.NoError(t, err)
	domain.Release()

	gc, err := pool.Borrow(context.Background(), "corp.example", true)
	require.NoError(t, err)
	gc.Release()

	assert.Equal(t, 2, discoverer.calls, "GC endpoints discover independently")
	assert.Equal(t, int64(2), pool.Stats().Created)
}

func TestPoolDiscardDropsConnection(t *testing.T) {
	conn := &fakeConn{}
	discoverer := &fakeDiscoverer{rounds: [][]*ServerInfo{
		{serverNamed("dc1.corp.example")},
	}}
	pool := newPoolUnderTest(t, discoverer, fakeDial(conn))

	handle, err := pool.Borrow(context.Background(), "corp.example", false)
	require.NoError(t, err)
	handle.Discard()
	handle.Release()

	assert.Equal(t, 0, pool.Stats().Idle, "a discarded handle never re-enters the pool")
}

func TestPoolClosedRejectsBorrow(t *testing.T) {
	conn := &fakeConn{}
	discoverer := &fakeDiscoverer{rounds: [][]*ServerInfo{
		{serverNamed("dc1.corp.example")},
	}}
	pool := newPoolUnderTest(t, discoverer, fakeDial(conn))
	pool.Close()

	_, err := pool.Borrow(context.Background(), "corp.example", false)
	assert.Error(t, err)
}
