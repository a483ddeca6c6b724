package main

import (
	"fmt"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/config"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/webhooks"
)

// openNotifier registers the configured endpoints. It returns nil when webhooks are off.
func openNotifier(cfg config.WebhookConfig, logger *observability.Logger, metrics *observability.Metrics) (*webhooks.Notifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	format, err := webhooks.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	events := make([]audit.EventType, 0, len(cfg.Events))
	for _, event := range cfg.Events {
		events = append(events, audit.EventType(event))
	}

	notifierConfig := webhooks.DefaultNotifierConfig()
	notifierConfig.Timeout = cfg.Timeout
	notifierConfig.Retry.MaxAttempts = cfg.MaxAttempts
	notifier := webhooks.NewNotifier(notifierConfig, logger.WithField("component", "webhooks"), metrics)

	for _, url := range cfg.URLs {
		endpoint := &webhooks.Endpoint{
			URL:         url,
			Events:      events,
			Format:      format,
			Secret:      cfg.Secret,
			Description: "configured at startup",
		}
		if err := notifier.Register(endpoint); err != nil {
			return nil, fmt.Errorf("webhook %s: %w", url, err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"endpoints": len(cfg.URLs),
		"format":    format,
		"api":       cfg.API,
	}).Info("Webhook notifications enabled")
	return notifier, nil
}
