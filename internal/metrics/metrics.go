package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomleader"

type Metrics struct {
	PhaseTransitions *prometheus.CounterVec
	GamesPlayed      *prometheus.CounterVec
	Commits          *prometheus.CounterVec
	CommandErrors    *prometheus.CounterVec
	Connections      prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Election phase transitions by target phase.",
		}, []string{"phase"}),
		GamesPlayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiebreak_games_total",
			Help:      "Tie-break games resolved by game type.",
		}, []string{"game"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leader_commits_total",
			Help:      "Leader commits by outcome.",
		}, []string{"outcome"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Rejected client commands by error kind.",
		}, []string{"kind"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections on this instance.",
		}),
	}
	reg.MustRegister(m.PhaseTransitions, m.GamesPlayed, m.Commits, m.CommandErrors, m.Connections)
	return m
}
