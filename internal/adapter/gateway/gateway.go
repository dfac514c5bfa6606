package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"io"
	"net"
	"net/http"
	"strconv"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
)

// Registry holds the configured adapters keyed by gateway name.
type Registry struct {
	adapters map[string]ports.GatewayAdapter
	order    []ports.GatewayAdapter
}

// NewRegistry builds a registry from the given adapters. All adapters are
// registered; whether a gateway is enabled is resolved per call through
// the settings service, so operators can toggle providers without a
// restart.
func NewRegistry(adapters ...ports.GatewayAdapter) *Registry {
	r := &Registry{adapters: make(map[string]ports.GatewayAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[string(a.Name())] = a
		r.order = append(r.order, a)
	}
	return r
}

// Get returns the adapter for a gateway name.
func (r *Registry) Get(name string) (ports.GatewayAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// All returns the registered adapters in registration order.
func (r *Registry) All() []ports.GatewayAdapter {
	return r.order
}

// computeHMAC returns the hex-encoded HMAC of message under secret using
// the given hash constructor.
func computeHMAC(h func() hash.Hash, secret, message []byte) string {
	mac := hmac.New(h, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC compares a hex signature against the computed HMAC of message
// in constant time. A malformed hex signature never verifies.
func verifyHMAC(h func() hash.Hash, secret, message []byte, signatureHex string) bool {
	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(h, secret)
	mac.Write(message)
	return hmac.Equal(provided, mac.Sum(nil))
}

// providerMetadata is the metadata block we attach when initiating a
// payment and every provider echoes back on its events. Credits arrives as
// a string from some providers and a number from others.
type providerMetadata struct {
	UserID          string      `json:"user_id"`
	Type            string      `json:"type"`
	Credits         json.Number `json:"credits"`
	PlanID          string      `json:"plan_id"`
	CreditPackageID string      `json:"credit_package_id"`
	BillingPeriod   string      `json:"billing_period"`
}

func (m providerMetadata) creditsValue() int64 {
	if m.Credits == "" {
		return 0
	}
	n, err := m.Credits.Int64()
	if err != nil {
		return 0
	}
	return n
}

// apply copies the metadata into normalized event data.
func (m providerMetadata) apply(d *domain.EventData) {
	d.UserID = m.UserID
	d.Type = m.Type
	d.Credits = m.creditsValue()
	d.PlanID = m.PlanID
	d.CreditPackageID = m.CreditPackageID
	d.BillingPeriod = domain.BillingPeriod(m.BillingPeriod)
}

// decodePackedMetadata parses the compact metadata JSON some providers
// carry in a single free-form string field (PayPal custom_id, Mercado
// Pago external_reference). Anything unparseable is ignored.
func decodePackedMetadata(raw string, d *domain.EventData) {
	if raw == "" || raw[0] != '{' {
		return
	}
	var meta providerMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return
	}
	meta.apply(d)
}

// metadataFor serializes the initiate request into the provider metadata
// block.
func metadataFor(req ports.InitiateRequest) providerMetadata {
	return providerMetadata{
		UserID:          req.UserID.String(),
		Type:            string(req.Type),
		PlanID:          req.PlanID,
		CreditPackageID: req.CreditPackageID,
		BillingPeriod:   string(req.BillingPeriod),
	}
}

// parseDecimalMinor converts a provider decimal amount string ("10.50")
// into minor units (1050). Providers that bill in whole currency send
// "10" or "10.5"; both are handled. Invalid input yields 0.
func parseDecimalMinor(v string) int64 {
	if v == "" {
		return 0
	}
	whole, frac := v, ""
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			whole, frac = v[:i], v[i+1:]
			break
		}
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	switch len(frac) {
	case 0:
		return w * 100
	case 1:
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0
		}
		return w*100 + f*10
	default:
		f, err := strconv.ParseInt(frac[:2], 10, 64)
		if err != nil {
			return 0
		}
		return w*100 + f
	}
}

// formatDecimal renders minor units as a provider decimal string.
func formatDecimal(minor int64) string {
	return strconv.FormatInt(minor/100, 10) + "." + pad2(minor%100)
}

func pad2(n int64) string {
	if n < 0 {
		n = -n
	}
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

func apperrSecretMissing() error {
	return apperror.ErrSecretNotConfigured(string(domain.GatewayPayPal))
}

// doRequest performs one provider API call and returns the response body
// and status code. Transport failures come back classified as TRN errors;
// interpreting the status code is the caller's job.
func doRequest(ctx context.Context, client *http.Client, g domain.Gateway, method, url string, header http.Header, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, gatewayCallErr(g, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, gatewayCallErr(g, err)
	}
	return data, resp.StatusCode, nil
}

// gatewayCallErr classifies a transport-level failure talking to a
// provider: timeouts map to TRN_002, everything else to TRN_001. Both are
// retryable.
func gatewayCallErr(g domain.Gateway, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperror.GatewayTimeout(string(g), err)
	}
	return apperror.GatewayUnavailable(string(g), err)
}

// gatewayStatusErr wraps an unexpected provider response as TRN_001.
func gatewayStatusErr(g domain.Gateway, err error) error {
	return apperror.GatewayUnavailable(string(g), err)
}
