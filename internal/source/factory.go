package source

import (
	"fmt"
	"time"

	"smig-go/internal/config"
	"smig-go/internal/smig"
)

// NewTokenProviderFromConfig creates a TokenProvider based on the source
// auth type.
func NewTokenProviderFromConfig(cfg config.SourceConfig) (smig.TokenProvider, error) {
	switch cfg.Auth {
	case "static":
		if cfg.Token == "" {
			return nil, fmt.Errorf("static auth requires token to be set")
		}
		return NewStaticTokenProvider(cfg.Token), nil
	case "env":
		if cfg.TokenEnv == "" {
			return nil, fmt.Errorf("env auth requires token_env to be set")
		}
		return NewEnvTokenProvider(cfg.TokenEnv), nil
	case "file":
		if cfg.TokenPath == "" {
			return nil, fmt.Errorf("file auth requires token_path to be set")
		}
		return NewFileTokenProvider(cfg.TokenPath), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Auth)
	}
}

// Factory implements smig.SourceFactory, sharing one throttled client (and
// therefore one concurrency cap and one set of counters) across all sites.
type Factory struct {
	client *ThrottledClient
	logger smig.Logger
}

// NewFactory wires a factory from config.
func NewFactory(cfg config.SourceConfig, logger smig.Logger) (*Factory, error) {
	tokens, err := NewTokenProviderFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating token provider: %w", err)
	}

	client := NewThrottledClient(nil, tokens, logger, ClientConfig{
		MaxAttempts:       cfg.MaxAttempts,
		BaseBackoff:       time.Second,
		MaxConcurrent:     cfg.MaxConcurrent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})

	return &Factory{client: client, logger: logger}, nil
}

func (f *Factory) ForSite(siteURL string) (smig.ContentSource, error) {
	if siteURL == "" {
		return nil, fmt.Errorf("site URL is empty")
	}
	return NewSiteSource(siteURL, f.client, f.logger), nil
}

// Client exposes the shared throttled client for stats reporting.
func (f *Factory) Client() *ThrottledClient {
	return f.client
}
