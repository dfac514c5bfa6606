package domain

import "time"

// BillingPeriod is the cadence a subscription renews on.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// AddTo returns t advanced by one billing period.
func (p BillingPeriod) AddTo(t time.Time) time.Time {
	if p == BillingPeriodYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// FreePlanID is the designated downgrade target after an immediate
// cancellation.
const FreePlanID = "free"

// Plan describes a purchasable subscription tier.
type Plan struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	BillingPeriod    BillingPeriod `json:"billing_period"`
	CreditsPerPeriod int64         `json:"credits_per_period"`
	PriceCents       int64         `json:"price_cents"`
	Currency         string        `json:"currency"`
}

// CreditPackage describes a one-off purchasable credit bundle.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}
