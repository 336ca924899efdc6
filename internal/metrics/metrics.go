package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Accounts
var (
	AccountsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgbot_accounts_running",
			Help: "Number of accounts with a live connection",
		},
	)

	AccountStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgbot_account_starts_total",
			Help: "Account start attempts by result",
		},
		[]string{"result"},
	)

	AccountFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgbot_account_faults_total",
			Help: "Accounts stopped by an unrecoverable connection error",
		},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgbot_auth_steps_total",
			Help: "Authentication steps by result",
		},
		[]string{"result"},
	)
)

// Promotion
var (
	PromotionSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgbot_promotion_sends_total",
			Help: "Promotion messages sent by result",
		},
		[]string{"result"},
	)

	PromotionCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgbot_promotion_cycles_total",
			Help: "Completed promotion cycles",
		},
	)

	PromotionRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgbot_promotion_recoveries_total",
			Help: "Promotion loop back-offs after a scheduler fault",
		},
	)

	PromotionLoops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgbot_promotion_loops_running",
			Help: "Number of running promotion loops",
		},
	)
)
