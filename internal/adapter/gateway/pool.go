package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
)

// tokenRefreshSlack is how long before expiry a cached token stops being
// handed out. PayPal tokens live ~9 hours; refreshing a minute early keeps
// in-flight requests from racing the expiry.
const tokenRefreshSlack = 60 * time.Second

// ClientPool caches the PayPal OAuth2 bearer token shared by the PayPal
// adapter. Concurrent callers that miss the cache are collapsed into a
// single refresh request; on a 401 from the API the adapter calls
// Invalidate and the next caller fetches a fresh token.
type ClientPool struct {
	settings ports.SettingsService
	client   *http.Client
	log      zerolog.Logger

	sf singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClientPool(settings ports.SettingsService, client *http.Client, log zerolog.Logger) *ClientPool {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ClientPool{
		settings: settings,
		client:   client,
		log:      log.With().Str("component", "gateway_client_pool").Logger(),
	}
}

// Token returns a bearer token valid for at least tokenRefreshSlack.
func (p *ClientPool) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && time.Until(p.expiresAt) > tokenRefreshSlack {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	v, err, _ := p.sf.Do("paypal_token", func() (interface{}, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Token call refreshes.
func (p *ClientPool) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

func (p *ClientPool) refresh(ctx context.Context) (string, error) {
	creds, err := p.settings.Gateway(ctx, domain.GatewayPayPal)
	if err != nil {
		return "", err
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return "", apperrSecretMissing()
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(creds.APIKey + ":" + creds.APISecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", gatewayCallErr(domain.GatewayPayPal, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("oauth token request returned %d: %s", resp.StatusCode, body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("decode oauth response: %w", err))
	}
	if out.AccessToken == "" {
		return "", gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("oauth response missing access_token"))
	}

	p.mu.Lock()
	p.token = out.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	p.mu.Unlock()

	p.log.Debug().Int64("expires_in", out.ExpiresIn).Msg("refreshed paypal access token")
	return out.AccessToken, nil
}
