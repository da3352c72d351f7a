package main

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/smartml/pkg/config"
)

const (
	driverMemory   = "memory"
	driverMongo    = "mongo"
	driverPostgres = "postgres"

	ledgerStore = "store"
	ledgerRedis = "redis"

	plansBuiltin = "builtin"
	plansYAML    = "yaml"
	plansMongo   = "mongo"
)

// appConfig selects the backends. Each backend reads its own settings.
type appConfig struct {
	StorageDriver       string        `env:"STORAGE_DRIVER" envDefault:"memory"`
	LedgerDriver        string        `env:"LEDGER_DRIVER" envDefault:"store"`
	PlansSource         string        `env:"PLANS_SOURCE"` // builtin, yaml or mongo; yaml when PLANS_FILE is set
	PlansFile           string        `env:"PLANS_FILE"`
	PlansReloadInterval time.Duration `env:"PLANS_RELOAD_INTERVAL" envDefault:"0"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatch          int           `env:"SWEEP_BATCH" envDefault:"100"`
	HealthTimeout       time.Duration `env:"HEALTHCHECK_TIMEOUT" envDefault:"2s"`
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		return nil
	}
	return config.LoadEnv(files...)
}

func loadAppConfig() (appConfig, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}
	if cfg.PlansSource == "" {
		cfg.PlansSource = plansBuiltin
		if cfg.PlansFile != "" {
			cfg.PlansSource = plansYAML
		}
	}
	return cfg, cfg.validate()
}

func (c appConfig) validate() error {
	switch c.StorageDriver {
	case driverMemory, driverMongo, driverPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.LedgerDriver {
	case ledgerStore, ledgerRedis:
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	switch c.PlansSource {
	case plansBuiltin:
	case plansYAML:
		if c.PlansFile == "" {
			return fmt.Errorf("PLANS_SOURCE=yaml requires PLANS_FILE")
		}
	case plansMongo:
		if c.StorageDriver != driverMongo {
			return fmt.Errorf("PLANS_SOURCE=mongo requires STORAGE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("unknown PLANS_SOURCE %q", c.PlansSource)
	}
	return nil
}
