package service

import (
	"context"
	"fmt"

	"payment-reconciler/config"
	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettingsServiceImpl implements ports.SettingsService. Stored values take
// precedence over environment configuration, so an admin can rotate a
// webhook secret at runtime without a redeploy.
type SettingsServiceImpl struct {
	repo  ports.SettingRepository
	cfg   *config.Config
	audit ports.AuditService
	log   zerolog.Logger
}

// NewSettingsService creates a new SettingsServiceImpl.
func NewSettingsService(repo ports.SettingRepository, cfg *config.Config, audit ports.AuditService, log zerolog.Logger) *SettingsServiceImpl {
	return &SettingsServiceImpl{repo: repo, cfg: cfg, audit: audit, log: log}
}

// Resolve returns the stored value for key, or "" when no row exists.
func (s *SettingsServiceImpl) Resolve(ctx context.Context, key string) (string, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("get setting %s: %w", key, err))
	}
	if setting == nil {
		return "", nil
	}
	return setting.Value, nil
}

// Set writes a setting and audits the change. Secret values are never
// logged; the audit entry records only the key.
func (s *SettingsServiceImpl) Set(ctx context.Context, key string, value string, adminID *uuid.UUID) error {
	if key == "" {
		return apperror.Validation("setting key must not be empty")
	}
	if err := s.repo.Set(ctx, key, value); err != nil {
		return apperror.InternalError(fmt.Errorf("set setting %s: %w", key, err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:  domain.AuditConfigChanged,
		AdminID: adminID,
		Details: map[string]any{"key": key},
	})
	s.log.Info().Str("key", key).Msg("setting updated")
	return nil
}

// Gateway merges the stored and configured credential set for one provider.
// Each field falls back to the environment configuration when the store has
// no override.
func (s *SettingsServiceImpl) Gateway(ctx context.Context, g domain.Gateway) (ports.GatewayCredentials, error) {
	base, ok := s.cfg.Gateways.ByName(string(g))
	if !ok {
		return ports.GatewayCredentials{}, apperror.ErrUnknownGateway(string(g))
	}

	creds := ports.GatewayCredentials{
		Enabled:       base.Enabled,
		APIKey:        base.APIKey,
		APISecret:     base.APISecret,
		WebhookSecret: base.WebhookSecret,
		Currency:      base.Currency,
		BaseURL:       base.BaseURL,
	}

	if v, err := s.Resolve(ctx, domain.GatewaySettingKey(g, domain.SettingEnabled)); err != nil {
		return ports.GatewayCredentials{}, err
	} else if v != "" {
		creds.Enabled = v == "true"
	}
	for _, field := range []struct {
		key string
		dst *string
	}{
		{domain.SettingAPIKey, &creds.APIKey},
		{domain.SettingAPISecret, &creds.APISecret},
		{domain.SettingWebhookSecret, &creds.WebhookSecret},
		{domain.SettingCurrency, &creds.Currency},
	} {
		v, err := s.Resolve(ctx, domain.GatewaySettingKey(g, field.key))
		if err != nil {
			return ports.GatewayCredentials{}, err
		}
		if v != "" {
			*field.dst = v
		}
	}
	return creds, nil
}
