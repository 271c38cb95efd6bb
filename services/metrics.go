package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "progression",
		Name:      "points_awarded_total",
		Help:      "Points credited to user aggregates.",
	})

	achievementsUnlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "progression",
		Name:      "achievements_unlocked_total",
		Help:      "Achievements completed by award sweeps.",
	})

	streakTouchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression",
		Name:      "streak_touches_total",
		Help:      "Streak touches by outcome.",
	}, []string{"outcome"})

	guildOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression",
		Name:      "guild_operations_total",
		Help:      "Guild state machine operations by operation and result kind.",
	}, []string{"operation", "result"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progression",
		Name:      "store_retries_total",
		Help:      "Automatic retries by operation and failure kind.",
	}, []string{"operation", "kind"})
)

func observeGuildOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	guildOperationsTotal.WithLabelValues(op, result).Inc()
}
