// Package config loads kfs configuration from flags, environment and config
// files through viper and converts it into the typed configs used by the
// table and telemetry packages.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/viper"
)

var log = logging.Logger("kfs/config")

var validate = validator.New()

type Validatable interface {
	Validate() error
}

func validateConfig(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load decodes the global viper instance into T and validates it.
func Load[T Validatable]() (T, error) {
	return LoadFrom[T](viper.GetViper())
}

// LoadFrom decodes v into T and validates it.
func LoadFrom[T Validatable](v *viper.Viper) (T, error) {
	var out T
	if err := v.Unmarshal(&out); err != nil {
		return out, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Debugw("loaded configuration", "file", used)
	}
	return out, nil
}
