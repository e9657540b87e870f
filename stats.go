package echomux

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const peerStatsTTL = 5 * time.Minute

// PeerStats is the per-peer traffic record kept by the stats manager.
// Entries expire after peerStatsTTL of inactivity.
type PeerStats struct {
	Addr               string
	TotalSentBytes     uint64
	TotalReceivedBytes uint64
	LastActivityTime   int64
}

type StatsManager struct {
	peers    *ristretto.Cache
	registry *prometheus.Registry

	acceptedConns prometheus.Counter
	echoedBytes   prometheus.Counter

	totalSent     *atomic.Uint64
	totalReceived *atomic.Uint64
}

func NewStatsManager() (*StatsManager, error) {
	peers, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	acceptedConns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echomux_connection_accept_total",
	})
	echoedBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echomux_echoed_bytes_total",
	})
	registry := prometheus.NewRegistry()
	registry.MustRegister(acceptedConns, echoedBytes)
	return &StatsManager{
		peers:         peers,
		registry:      registry,
		acceptedConns: acceptedConns,
		echoedBytes:   echoedBytes,
		totalSent:     atomic.NewUint64(0),
		totalReceived: atomic.NewUint64(0),
	}, nil
}

func (sm *StatsManager) RecordAccept(addr string) {
	sm.acceptedConns.Inc()
	sm.touch(addr, 0, 0)
}

// RecordEcho accounts one served echo: read bytes in, written bytes
// back out.
func (sm *StatsManager) RecordEcho(addr string, read, written int) {
	sm.echoedBytes.Add(float64(written))
	sm.totalReceived.Add(uint64(read))
	sm.totalSent.Add(uint64(written))
	sm.touch(addr, uint64(written), uint64(read))
}

// Peer returns the cached record for addr, if it has not expired.
func (sm *StatsManager) Peer(addr string) (PeerStats, bool) {
	value, ok := sm.peers.Get(addr)
	if !ok {
		return PeerStats{}, false
	}
	return value.(PeerStats), true
}

func (sm *StatsManager) Totals() (sent, received uint64) {
	return sm.totalSent.Load(), sm.totalReceived.Load()
}

func (sm *StatsManager) Registry() *prometheus.Registry {
	return sm.registry
}

func (sm *StatsManager) Wait() {
	sm.peers.Wait()
}

func (sm *StatsManager) Close() {
	sm.peers.Close()
}

func (sm *StatsManager) touch(addr string, sent, received uint64) {
	stats, _ := sm.Peer(addr)
	stats.Addr = addr
	stats.TotalSentBytes += sent
	stats.TotalReceivedBytes += received
	stats.LastActivityTime = time.Now().UnixMilli()
	sm.peers.SetWithTTL(addr, stats, 1, peerStatsTTL)
	// sets are buffered; flush so the next read-modify-write sees this one
	sm.peers.Wait()
}
