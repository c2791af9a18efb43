package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/sequence-engine/internal/config"
	"go.uber.org/zap"
)

// New builds the configured Mailer wrapped with recipient validation.
// Credentials and the simulation switch come only from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Mailer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var (
		mailer Mailer
		err    error
	)

	switch cfg.MailProvider {
	case config.MailProviderSimulated:
		mailer = NewSimulatedMailer(logger)
	case config.MailProviderHTTP:
		mailer, err = NewHTTPMailer(cfg.MailHTTPEndpoint, cfg.MailAPIKey)
	case config.MailProviderSMTP:
		mailer, err = NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	case config.MailProviderSES:
		mailer, err = NewSESMailer(ctx, SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.MailProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build %s mailer: %w", cfg.MailProvider, err)
	}

	return WithAddressValidation(mailer), nil
}
