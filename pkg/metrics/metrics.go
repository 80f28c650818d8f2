// Package metrics prometheus collectors for the ranked engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Matchmaking collectors. A nil *Matchmaking is valid and records nothing.
type Matchmaking struct {
	queueSize         *prometheus.GaugeVec
	matchesFormed     *prometheus.CounterVec
	queueRemovals     *prometheus.CounterVec
	formationDuration *prometheus.HistogramVec
	formationAborts   *prometheus.CounterVec
	mapVotes          *prometheus.CounterVec
	voiceProvisioning *prometheus.CounterVec
}

func NewMatchmaking(registry prometheus.Registerer) *Matchmaking {
	factory := promauto.With(registry)
	queueLabels := []string{"ranked_mode", "game_mode"}

	return &Matchmaking{
		queueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ranked_queue_size",
				Help: "Live entries per ranked queue",
			}, queueLabels),
		matchesFormed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranked_matches_formed_total",
				Help: "Matches created by the engine",
			}, append(queueLabels, "team_size", "test")),
		queueRemovals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranked_queue_removals_total",
				Help: "Players removed from a queue, by cause",
			}, append(queueLabels, "cause")),
		formationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ranked_formation_duration_ms",
				Help:    "Time from reserving a pool to persisting the match",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}, queueLabels),
		formationAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranked_formation_aborts_total",
				Help: "Formations rolled back into the queue, by reason",
			}, append(queueLabels, "reason")),
		mapVotes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranked_map_votes_resolved_total",
				Help: "Map votes resolved, by trigger",
			}, []string{"trigger"}),
		voiceProvisioning: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranked_voice_provisioning_total",
				Help: "Voice channel provisioning attempts, by result",
			}, []string{"result"}),
	}
}

func (m *Matchmaking) SetQueueSize(rankedMode, gameMode string, size int) {
	if m == nil {
		return
	}
	m.queueSize.WithLabelValues(rankedMode, gameMode).Set(float64(size))
}

func (m *Matchmaking) MatchFormed(rankedMode, gameMode string, teamSize int, test bool) {
	if m == nil {
		return
	}
	m.matchesFormed.WithLabelValues(rankedMode, gameMode, strconv.Itoa(teamSize), strconv.FormatBool(test)).Inc()
}

func (m *Matchmaking) QueueRemoval(rankedMode, gameMode, cause string) {
	if m == nil {
		return
	}
	m.queueRemovals.WithLabelValues(rankedMode, gameMode, cause).Inc()
}

func (m *Matchmaking) ObserveFormation(rankedMode, gameMode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.formationDuration.WithLabelValues(rankedMode, gameMode).Observe(float64(elapsed.Milliseconds()))
}

func (m *Matchmaking) FormationAborted(rankedMode, gameMode, reason string) {
	if m == nil {
		return
	}
	m.formationAborts.WithLabelValues(rankedMode, gameMode, reason).Inc()
}

func (m *Matchmaking) MapVoteResolved(trigger string) {
	if m == nil {
		return
	}
	m.mapVotes.WithLabelValues(trigger).Inc()
}

func (m *Matchmaking) VoiceProvisioned(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.voiceProvisioning.WithLabelValues(result).Inc()
}
