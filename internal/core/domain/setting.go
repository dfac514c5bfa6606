package domain

import "time"

// Setting is one row of the generic key-value configuration store. Stored
// values take precedence over environment configuration when both exist.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gateway setting key suffixes.
const (
	SettingEnabled       = "enabled"
	SettingAPIKey        = "api_key"
	SettingAPISecret     = "api_secret"
	SettingWebhookSecret = "webhook_secret"
	SettingCurrency      = "currency"
)

// GatewaySettingKey builds the store key for one gateway credential field,
// e.g. "gateway.paystack.webhook_secret".
func GatewaySettingKey(g Gateway, field string) string {
	return "gateway." + string(g) + "." + field
}
