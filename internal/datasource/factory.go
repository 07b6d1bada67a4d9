package datasource

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/config"
)

// NewSource builds a single source from its configuration.
func NewSource(cfg config.DataSourceConfig, logger *logrus.Logger) (Source, error) {
	switch cfg.Kind {
	case "csv":
		return NewCSVSource(cfg.Name, cfg.Path, cfg.Enabled, logger), nil
	case "http":
		clientCfg := DefaultHTTPClientConfig()
		if cfg.RateLimitPerSecond > 0 {
			clientCfg.RateLimit = cfg.RateLimitPerSecond
		}
		client := NewRateLimitedHTTPClient(clientCfg, logger)
		return NewHTTPSource(cfg.Name, cfg.URL, cfg.APIKey, cfg.Enabled, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown data source kind %q for source %q", cfg.Kind, cfg.Name)
	}
}

// NewSources builds all enabled sources from the ingestion configuration.
func NewSources(cfg *config.IngestionConfig, logger *logrus.Logger) ([]Source, error) {
	var sources []Source
	for _, sourceCfg := range cfg.Sources {
		if !sourceCfg.Enabled {
			if logger != nil {
				logger.WithField("source", sourceCfg.Name).Info("skipping disabled data source")
			}
			continue
		}
		source, err := NewSource(sourceCfg, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	if len(sources) == 0 {
		return nil, ErrNoSourcesEnabled
	}
	return sources, nil
}
