package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	files  []string
	prefix string
}

// WithEnvFiles loads the given .env files before parsing. Unlike the implicit
// ./.env, a missing file here is an error. Variables already set in the
// process environment win over file values.
func WithEnvFiles(paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.files = append(o.files, paths...)
	}
}

// WithPrefix prepends prefix to every variable name of the struct.
func WithPrefix(prefix string) LoadOption {
	return func(o *loadOptions) {
		o.prefix = prefix
	}
}

// Load parses environment variables into a new T according to its env tags.
// The ./.env file is read once per process if present.
//
//	type StoreConfig struct {
//		Driver string `env:"STORE_DRIVER" envDefault:"memory"`
//	}
//
//	cfg, err := config.Load[StoreConfig]()
func Load[T any](opts ...LoadOption) (T, error) {
	var cfg T

	defaultEnvLoaded.Do(func() {
		// .env is optional
		_ = godotenv.Load()
	})

	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	for _, path := range o.files {
		if _, err := os.Stat(path); err != nil {
			return cfg, errors.Join(ErrLoadingEnvFile, err)
		}
		if err := godotenv.Load(path); err != nil {
			return cfg, errors.Join(ErrLoadingEnvFile, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: o.prefix}); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}

	return cfg, nil
}

// MustLoad works like Load but panics if configuration loading fails.
// Use it for configuration the process cannot start without.
func MustLoad[T any](opts ...LoadOption) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}
