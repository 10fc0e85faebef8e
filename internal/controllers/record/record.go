package record

import (
	"context"
	"errors"
	"time"

	"github.com/eric2788/webcamrec/internal/services/recorder"
	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "record")

// camera start and stop are bounded by their own deadline, not the request
const lifecycleTimeout = time.Minute

type Controller struct {
	service *recorder.Service
}

func NewController(app *fiber.App, service *recorder.Service) *Controller {
	rc := &Controller{service: service}

	record := app.Group("/record")
	record.Post("/start", rc.startCamera)
	record.Post("/stop", rc.stopCamera)
	record.Post("/on", rc.recordingOn)
	record.Post("/off", rc.recordingOff)
	record.Get("/status", rc.getStatus)
	record.Get("/stats", rc.getStats)

	settings := app.Group("/settings")
	settings.Get("/", rc.getSettings)
	settings.Put("/:name", rc.updateSetting)
	return rc
}

// @Summary Start the camera
// @Description Launch capture and the HLS encoder, returns once video flows
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} recorder.Status
// @Failure 409 {string} string "Camera already running"
// @Failure 502 {string} string "Camera process failed"
// @Router /record/start [post]
func (r *Controller) startCamera(ctx fiber.Ctx) error {
	c, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	if err := r.service.Start(c); err != nil {
		logger.Errorf("error starting camera: %v", err)
		return parseFiberError(err)
	}
	return ctx.JSON(r.service.Status())
}

// @Summary Stop the camera
// @Description Close the open segment and stop both processes
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} recorder.Status
// @Router /record/stop [post]
func (r *Controller) stopCamera(ctx fiber.Ctx) error {
	c, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	if err := r.service.Stop(c); err != nil {
		logger.Errorf("error stopping camera: %v", err)
		return fiber.ErrInternalServerError
	}
	return ctx.JSON(r.service.Status())
}

// @Summary Start recording segments
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} recorder.Status
// @Failure 409 {string} string "Invalid state"
// @Router /record/on [post]
func (r *Controller) recordingOn(ctx fiber.Ctx) error {
	return r.setRecording(ctx, true)
}

// @Summary Stop recording segments
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} recorder.Status
// @Failure 409 {string} string "Invalid state"
// @Router /record/off [post]
func (r *Controller) recordingOff(ctx fiber.Ctx) error {
	return r.setRecording(ctx, false)
}

func (r *Controller) setRecording(ctx fiber.Ctx, on bool) error {
	if err := r.service.SetRecording(on); err != nil {
		logger.Warnf("error setting recording=%t: %v", on, err)
		return parseFiberError(err)
	}
	return ctx.JSON(r.service.Status())
}

// @Summary Get camera status
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} recorder.Status
// @Router /record/status [get]
func (r *Controller) getStatus(ctx fiber.Ctx) error {
	return ctx.JSON(r.service.Status())
}

// @Summary Get capture statistics
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} recorder.Stats
// @Router /record/stats [get]
func (r *Controller) getStats(ctx fiber.Ctx) error {
	return ctx.JSON(r.service.Stats())
}

// @Summary List settings
// @Tags settings
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /settings [get]
func (r *Controller) getSettings(ctx fiber.Ctx) error {
	return ctx.JSON(r.service.Settings())
}

// @Summary Update a setting
// @Description Apply a host setting change, currently only is_recording
// @Tags settings
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param name path string true "Setting name"
// @Param body body SettingRequest true "New value"
// @Success 200 {object} SettingResult
// @Failure 400 {string} string "Bad request"
// @Failure 404 {string} string "Unknown setting"
// @Failure 409 {string} string "Invalid state"
// @Router /settings/{name} [put]
func (r *Controller) updateSetting(ctx fiber.Ctx) error {
	name := ctx.Params("name")
	var req SettingRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if err := r.service.OnSettingChanged(name, req.Value); err != nil {
		logger.Warnf("error applying setting %s=%q: %v", name, req.Value, err)
		return parseFiberError(err)
	}
	return ctx.JSON(SettingResult{
		Name:   name,
		Value:  r.service.Settings()[name],
		Status: r.service.Status(),
	})
}

func parseFiberError(err error) error {
	switch {
	case errors.Is(err, recorder.ErrUnknownSetting):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, recorder.ErrInvalidValue):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, recorder.ErrAlreadyRunning), errors.Is(err, recorder.ErrInvalidState):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, recorder.ErrStartupTimeout):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	case errors.Is(err, supervisor.ErrLaunchFailed), errors.Is(err, supervisor.ErrRetryCapExceeded):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.ErrGatewayTimeout
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
