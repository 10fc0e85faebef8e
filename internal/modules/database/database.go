package database

import (
	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("module", "database")

func provider(lc fx.Lifecycle, cfg *config.Config) (*db.Client, error) {
	client, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	logger.Debugf("opened %s", cfg.DatabasePath())
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

var Module = fx.Module("database", fx.Provide(provider))
