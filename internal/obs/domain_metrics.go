package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromotionAppliedTotal counts promotion applications by kind and mode (manual/auto).
	PromotionAppliedTotal *prometheus.CounterVec
	// PromotionRejectedTotal counts failed promotion applications by reason.
	PromotionRejectedTotal *prometheus.CounterVec
	// CartReconcileTotal counts orchestrator reconcile runs by outcome.
	CartReconcileTotal *prometheus.CounterVec
	// CartReconcileDuration records reconcile latency in milliseconds.
	CartReconcileDuration prometheus.Histogram
	// UsageLedgerTotal counts usage ledger operations (reserve/release/finalize) by result.
	UsageLedgerTotal *prometheus.CounterVec
	// CartSaveConflicts counts optimistic-concurrency save rejections.
	CartSaveConflicts prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromotionAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_applied_total",
			Help:      "Count of promotions attached to carts.",
		}, []string{"kind", "mode"})
		PromotionRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_rejected_total",
			Help:      "Count of rejected promotion applications by reason.",
		}, []string{"reason"})
		CartReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_reconcile_total",
			Help:      "Count of auto-apply reconcile runs by outcome.",
		}, []string{"result"})
		CartReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_reconcile_duration_ms",
			Help:      "Latency of auto-apply reconcile runs in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		})
		UsageLedgerTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_usage_ledger_total",
			Help:      "Count of usage ledger operations by operation and result.",
		}, []string{"op", "result"})
		CartSaveConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_save_conflicts_total",
			Help:      "Number of cart saves rejected by the version check.",
		})

		mustRegisterCollector(reg, PromotionAppliedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionAppliedTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionRejectedTotal = v
			}
		})
		mustRegisterCollector(reg, CartReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartReconcileTotal = v
			}
		})
		mustRegisterCollector(reg, CartReconcileDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CartReconcileDuration = v
			}
		})
		mustRegisterCollector(reg, UsageLedgerTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				UsageLedgerTotal = v
			}
		})
		mustRegisterCollector(reg, CartSaveConflicts, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CartSaveConflicts = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, c prometheus.Collector, replace func(prometheus.Collector)) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			replace(are.ExistingCollector)
			return
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
}
