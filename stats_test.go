package echomux

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsManagerAccounting(t *testing.T) {
	stats, err := NewStatsManager()
	require.NoError(t, err)
	defer stats.Close()

	stats.RecordAccept("10.0.0.5:40000")
	stats.RecordEcho("10.0.0.5:40000", 20, 20)
	stats.RecordEcho("10.0.0.5:40000", 22, 22)
	stats.Wait()

	sent, received := stats.Totals()
	assert.Equal(t, uint64(42), sent)
	assert.Equal(t, uint64(42), received)

	peer, ok := stats.Peer("10.0.0.5:40000")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5:40000", peer.Addr)
	assert.Equal(t, uint64(42), peer.TotalSentBytes)
	assert.Equal(t, uint64(42), peer.TotalReceivedBytes)
	assert.NotZero(t, peer.LastActivityTime)

	assert.Equal(t, float64(1), testutil.ToFloat64(stats.acceptedConns))
	assert.Equal(t, float64(42), testutil.ToFloat64(stats.echoedBytes))
}

func TestStatsManagerUnknownPeer(t *testing.T) {
	stats, err := NewStatsManager()
	require.NoError(t, err)
	defer stats.Close()

	_, ok := stats.Peer("198.51.100.7:1")
	assert.False(t, ok)
}
