package api

import (
	"fmt"
	"time"

	"github.com/finsage/finsage/pkg/embedding"
	embcache "github.com/finsage/finsage/pkg/embedding/cache"
)

// Alert is one active threshold breach served by /alerts
type Alert struct {
	Name      string    `json:"name"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

const (
	severityWarning  = "warning"
	severityCritical = "critical"
)

// budgetAlertUtilization is the spend share at which the budget alert fires
const budgetAlertUtilization = 0.9

// cacheHitRateFloor and cacheAlertMinLookups gate the hit-rate alert so it
// stays silent until there is enough traffic to judge
const (
	cacheHitRateFloor    = 0.2
	cacheAlertMinLookups = 100
)

// evaluateAlerts derives the active alert set from live component snapshots
func evaluateAlerts(
	breakers map[embedding.ProviderID]embedding.BreakerStatus,
	budget embedding.BudgetSnapshot,
	cacheStats embcache.Stats,
	shadow embedding.ShadowStats,
	similarityThreshold float64,
) []Alert {
	now := time.Now()
	var alerts []Alert

	for id, status := range breakers {
		if status.State == embedding.BreakerOpen {
			alerts = append(alerts, Alert{
				Name:     fmt.Sprintf("breaker_open_%s", id),
				Severity: severityCritical,
				Message:  fmt.Sprintf("%s provider circuit breaker is open", id),
				At:       now,
			})
		}
	}

	if budget.LimitUSD > 0 {
		utilization := budget.SpentUSD / budget.LimitUSD
		if utilization >= budgetAlertUtilization {
			alerts = append(alerts, Alert{
				Name:      "budget_near_limit",
				Severity:  severityWarning,
				Message:   fmt.Sprintf("daily API budget %.0f%% utilized", utilization*100),
				Value:     utilization,
				Threshold: budgetAlertUtilization,
				At:        now,
			})
		}
	}

	lookups := cacheStats.L1Hits + cacheStats.L2Hits + cacheStats.Misses
	if lookups >= cacheAlertMinLookups && cacheStats.HitRate < cacheHitRateFloor {
		alerts = append(alerts, Alert{
			Name:      "cache_hit_rate_low",
			Severity:  severityWarning,
			Message:   fmt.Sprintf("cache hit rate %.1f%% below floor", cacheStats.HitRate*100),
			Value:     cacheStats.HitRate,
			Threshold: cacheHitRateFloor,
			At:        now,
		})
	}

	if shadow.Comparisons > 0 && shadow.AvgSimilarity < similarityThreshold {
		alerts = append(alerts, Alert{
			Name:      "shadow_similarity_low",
			Severity:  severityWarning,
			Message:   fmt.Sprintf("shadow average similarity %.4f below threshold", shadow.AvgSimilarity),
			Value:     shadow.AvgSimilarity,
			Threshold: similarityThreshold,
			At:        now,
		})
	}

	return alerts
}
