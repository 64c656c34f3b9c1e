// Package plans maps subscription tiers to what a business may do.
package plans

import "strings"

const (
	TierFree    = "free"
	TierStarter = "starter"
	TierPro     = "pro"
)

// Limits travel in billing events; booking-service enforces MaxMonthlyAppointments.
type Limits struct {
	Tier                   string `json:"tier"`
	MaxMonthlyAppointments int    `json:"max_monthly_appointments"`
}

// ForTier falls back to the free plan for unknown tiers.
func ForTier(tier string) Limits {
	switch Normalize(tier) {
	case TierStarter:
		return Limits{Tier: TierStarter, MaxMonthlyAppointments: 500}
	case TierPro:
		return Limits{Tier: TierPro, MaxMonthlyAppointments: 2000}
	default:
		return Limits{Tier: TierFree, MaxMonthlyAppointments: 200}
	}
}

func Normalize(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

// Paid reports whether tier can be bought through checkout.
func Paid(tier string) bool {
	switch Normalize(tier) {
	case TierStarter, TierPro:
		return true
	}
	return false
}
