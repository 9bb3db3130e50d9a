package cli

import (
	"context"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storacha/kfs/cmd/cli/flags"
	"github.com/storacha/kfs/pkg/build"
	"github.com/storacha/kfs/pkg/config"
	"github.com/storacha/kfs/pkg/telemetry"
)

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

var log = logging.Logger("cmd")

const kfsShortDescription = `
kfs is a sharded, content addressed blob store
`

const kfsLongDescription = `
kfs stores blobs by key in a table of leveldb shards. Keys are hashed into
160 bit file keys, routed to a shard by the table reference ID, and stored
as fixed size chunks.
`

var (
	cfgFile  string
	logLevel string
	rootCmd  = &cobra.Command{
		Use:   "kfs",
		Short: kfsShortDescription,
		Long:  kfsLongDescription,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return telemetry.Shutdown(ctx)
		},
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initLogging, initConfig, initTelemetry)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "logging level")
	cobra.CheckErr(flags.SetupTableFlags(rootCmd.PersistentFlags()))

	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix(config.EnvPrefix)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
	}
}

func initTelemetry() {
	var telCfg config.TelemetryConfig
	if err := viper.UnmarshalKey("telemetry", &telCfg); err != nil {
		log.Warnf("failed to read telemetry config: %s", err)
		return
	}
	if !telCfg.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := telemetry.Initialize(ctx, telCfg.ToTelemetryConfig("kfs", build.Version)); err != nil {
		log.Warnf("failed to initialize telemetry: %s", err)
	}
}

func initLogging() {
	if logLevel != "" {
		ll, err := logging.LevelFromString(logLevel)
		cobra.CheckErr(err)
		logging.SetAllLoggers(ll)
	} else {
		logging.SetLogLevel("kfs/shard", "warn")
		logging.SetLogLevel("kfs/table", "warn")
		logging.SetLogLevel("kfs/leveldb", "error")
		logging.SetLogLevel("kfs/config", "error")
		logging.SetLogLevel("kfs/objectstore", "warn")
		logging.SetLogLevel("kfs/fx", "warn")
		logging.SetLogLevel("telemetry", "info")
		logging.SetLogLevel("cmd", "info")
	}
}
