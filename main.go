package main

import (
	"time"

	"github.com/eric2788/webcamrec/internal/controllers/convert"
	"github.com/eric2788/webcamrec/internal/controllers/file"
	"github.com/eric2788/webcamrec/internal/controllers/record"
	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/modules/database"
	"github.com/eric2788/webcamrec/internal/modules/rest"
	"github.com/eric2788/webcamrec/internal/services/catalog"
	c "github.com/eric2788/webcamrec/internal/services/convert"
	f "github.com/eric2788/webcamrec/internal/services/file"
	"github.com/eric2788/webcamrec/internal/services/recorder"
	"go.uber.org/fx"
)

func main() {

	app := fx.New(
		config.Module,
		database.Module,
		rest.Module,

		fx.Provide(catalog.NewService),
		fx.Provide(c.NewService),
		fx.Provide(f.NewService),
		fx.Provide(recorder.NewService),

		fx.Invoke(record.NewController),
		fx.Invoke(file.NewController),
		fx.Invoke(convert.NewController),

		// the camera stop grace applies to both processes
		fx.StopTimeout(1*time.Minute),
	)

	app.Run()
}
