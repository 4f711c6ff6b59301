package main

import (
	"path/filepath"
	"testing"
	"time"

	"Dot11/cmd/simulate/config"
	"Dot11/pkg/capture"
	"Dot11/pkg/layers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShutdown_StopsStationsBeforeCapture(t *testing.T) {
	cfg := &config.Config{Capture: filepath.Join(t.TempDir(), "air.pcap")}
	cfg.Medium.SlotTime = time.Millisecond
	cfg.Medium.SIFSTime = time.Millisecond
	cfg.Link.AckTimeout = 20 * time.Millisecond
	cfg.Link.PollInterval = time.Millisecond

	network := config.CreateNetwork(cfg)
	trace, err := config.CreateCapture(cfg)
	require.NoError(t, err)
	network.Tap = trace.Tap

	log := zaptest.NewLogger(t).Sugar()
	stations := map[layers.MACAddress]*layers.LinkLayer{}
	for _, address := range []uint16{100, 200} {
		link := config.CreateLinkLayer(cfg, address, network.Join(), log)
		require.NoError(t, link.Open())
		stations[link.Address] = link
	}

	// 300 never answers, so station 100 keeps retransmitting until it is closed
	_, err = stations[100].Send(300, []byte("busy"), 4)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return trace.Count() > 0 }, 5*time.Second, time.Millisecond)

	require.NoError(t, shutdown(stations, trace))
	captured := trace.Count()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, captured, trace.Count(), "nothing is tapped after shutdown")
	assert.NoError(t, trace.Close())
	for _, link := range stations {
		_, err := link.Send(200, []byte("late"), 4)
		assert.ErrorIs(t, err, layers.ErrClosed)
	}
}

func TestShutdown_WithoutCapture(t *testing.T) {
	assert.NoError(t, shutdown(map[layers.MACAddress]*layers.LinkLayer{}, (*capture.Writer)(nil)))
}
