package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchmaking_Records(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMatchmaking(registry)

	m.SetQueueSize("hardcore", "Search & Destroy", 7)
	m.MatchFormed("hardcore", "Search & Destroy", 4, false)
	m.MatchFormed("hardcore", "Search & Destroy", 4, false)
	m.QueueRemoval("hardcore", "Search & Destroy", "parity")
	m.ObserveFormation("hardcore", "Search & Destroy", 40*time.Millisecond)
	m.MapVoteResolved("expired")
	m.VoiceProvisioned(false)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueSize.WithLabelValues("hardcore", "Search & Destroy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.matchesFormed.WithLabelValues("hardcore", "Search & Destroy", "4", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.voiceProvisioning.WithLabelValues("failed")))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMatchmaking_NilIsNoop(t *testing.T) {
	var m *Matchmaking
	assert.NotPanics(t, func() {
		m.SetQueueSize("core", "Gunfight", 1)
		m.MatchFormed("core", "Gunfight", 1, true)
		m.QueueRemoval("core", "Gunfight", "left")
		m.ObserveFormation("core", "Gunfight", time.Second)
		m.FormationAborted("core", "Gunfight", "persistence")
		m.MapVoteResolved("early")
		m.VoiceProvisioned(true)
	})
}
