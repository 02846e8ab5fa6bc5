package source

import (
	"fmt"
	"os"

	"tgdump-go/internal/archive"
	"tgdump-go/internal/config"
)

// NewSourceFromConfig creates a MessageSource based on the source config type.
// The bearer token is read from the environment variable named by TokenEnv.
func NewSourceFromConfig(cfg config.SourceConfig, logger archive.Logger) (archive.MessageSource, error) {
	switch cfg.Type {
	case "http", "":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http source requires base_url to be set")
		}
		var token string
		if cfg.TokenEnv != "" {
			token = os.Getenv(cfg.TokenEnv)
		}
		return NewHTTPSource(cfg.BaseURL, Options{
			Token:             token,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Timeout:           cfg.Timeout.Duration,
			Logger:            logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
