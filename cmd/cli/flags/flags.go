package flags

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagBinding ties a flag to a viper key and, optionally, to an extra
// environment variable.
type FlagBinding struct {
	FlagName string
	ViperKey string
	EnvVar   string
}

func AddAndBindFlags(flags *pflag.FlagSet, bindings []FlagBinding) error {
	for _, b := range bindings {
		if err := viper.BindPFlag(b.ViperKey, flags.Lookup(b.FlagName)); err != nil {
			return fmt.Errorf("binding flag %s: %w", b.FlagName, err)
		}
		if b.EnvVar != "" {
			if err := viper.BindEnv(b.ViperKey, b.EnvVar); err != nil {
				return fmt.Errorf("binding env %s: %w", b.EnvVar, err)
			}
		}
	}

	return nil
}
