package kfs

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"

	"github.com/storacha/kfs/pkg/config"
	"github.com/storacha/kfs/pkg/store/objectstore"
	kfsstore "github.com/storacha/kfs/pkg/store/objectstore/kfs"
	"github.com/storacha/kfs/pkg/table"
	"github.com/storacha/kfs/pkg/telemetry"
)

var log = logging.Logger("kfs/fx")

// Module provides a *table.Table, and an objectstore.Store over it, from a
// supplied config.Config. The table is flushed and closed when the app stops.
var Module = fx.Module("kfs",
	fx.Provide(
		ProvideStoreMetrics,
		ProvideTableConfig,
		ProvideTable,
		fx.Annotate(
			kfsstore.New,
			fx.As(fx.Self()),
			fx.As(new(objectstore.Store)),
		),
	),
)

// ProvideStoreMetrics records to the global telemetry instance, which is a
// no-op unless telemetry was initialized.
func ProvideStoreMetrics() (*telemetry.StoreMetrics, error) {
	return telemetry.NewStoreMetrics(telemetry.Global())
}

func ProvideTableConfig(cfg config.Config, metrics *telemetry.StoreMetrics) (table.Config, error) {
	tc, err := cfg.ToTableConfig()
	if err != nil {
		return table.Config{}, fmt.Errorf("converting table config: %w", err)
	}
	tc.Metrics = metrics
	return tc, nil
}

type TableParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Table     table.Config
}

func ProvideTable(params TableParams) (*table.Table, error) {
	tbl, err := table.Open(params.Config.Table.Path, params.Table)
	if err != nil {
		return nil, fmt.Errorf("opening table: %w", err)
	}

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := tbl.Flush(ctx); err != nil {
				log.Errorw("failed to flush table", "path", tbl.Path(), "error", err)
			}
			return tbl.Close(ctx)
		},
	})

	return tbl, nil
}
