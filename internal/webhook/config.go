package webhook

import (
	"fmt"

	"github.com/mattjoyce/deploygw/internal/config"
)

// FromGlobalConfig converts config.WebhookConfig to webhook.Config.
// Parses the max body size; the secret is copied as loaded.
func FromGlobalConfig(wc config.WebhookConfig) (Config, error) {
	maxBodySize, err := config.ParseSize(wc.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("webhook %q: invalid max_body_size %q: %w", wc.Path, wc.MaxBodySize, err)
	}

	return Config{
		Listen:          wc.Listen,
		Path:            wc.Path,
		Secret:          wc.Secret,
		SignatureHeader: wc.SignatureHeader,
		EventHeader:     wc.EventHeader,
		MaxBodySize:     maxBodySize,
		DeployHooks:     wc.DeployHooks,
	}, nil
}
