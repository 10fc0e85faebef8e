package convert

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/eric2788/webcamrec/internal/services/convert"
	"github.com/eric2788/webcamrec/internal/services/file"
	"github.com/eric2788/webcamrec/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "convert")

type Controller struct {
	convertSvc *convert.Service
	fileSvc    *file.Service
}

func NewController(app *fiber.App, convertSvc *convert.Service, fileSvc *file.Service) *Controller {
	cc := &Controller{
		convertSvc: convertSvc,
		fileSvc:    fileSvc,
	}

	converts := app.Group("/convert")
	converts.Get("/tasks", cc.listConvertTasks)
	converts.Delete("/tasks/:task_id", cc.cancelTask)
	converts.Post("/tasks/:name", cc.enqueueTask)
	return cc
}

// @Summary List queued convert tasks
// @Tags convert
// @Security BearerAuth
// @Produce json
// @Success 200 {array} convert.TaskQueue "List of convert tasks"
// @Failure 500 {string} string "Internal server error"
// @Router /convert/tasks [get]
func (c *Controller) listConvertTasks(ctx fiber.Ctx) error {
	tasks, err := c.convertSvc.ListInProgress()
	if err != nil {
		logger.Errorf("error listing convert tasks: %v", err)
		return fiber.ErrInternalServerError
	}
	// only expose file names
	for i := range tasks {
		tasks[i].InputPath = filepath.Base(tasks[i].InputPath)
		tasks[i].OutputPath = filepath.Base(tasks[i].OutputPath)
	}
	return ctx.JSON(tasks)
}

// @Summary Cancel convert task
// @Tags convert
// @Security BearerAuth
// @Param task_id path string true "Task ID"
// @Success 204 {string} string "No Content"
// @Failure 404 {string} string "Not Found"
// @Router /convert/tasks/{task_id} [delete]
func (c *Controller) cancelTask(ctx fiber.Ctx) error {
	taskID := ctx.Params("task_id", "")
	if taskID == "" {
		return fiber.ErrBadRequest
	}
	if err := c.convertSvc.Cancel(taskID); err != nil {
		if errors.Is(err, convert.ErrTaskNotFound) {
			return fiber.ErrNotFound
		}
		logger.Errorf("error cancelling convert task %s: %v", taskID, err)
		return fiber.ErrInternalServerError
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// @Summary Enqueue convert task
// @Description Queue a raw segment for remuxing into mp4
// @Tags convert
// @Security BearerAuth
// @Produce json
// @Param name path string true "Segment file name"
// @Param delete query bool false "Delete the raw segment after conversion" default(false)
// @Success 200 {object} convert.TaskQueue "Enqueued convert task"
// @Failure 404 {string} string "Not Found"
// @Failure 409 {string} string "Already queued"
// @Failure 503 {string} string "ffmpeg not available"
// @Router /convert/tasks/{name} [post]
func (c *Controller) enqueueTask(ctx fiber.Ctx) error {
	name := ctx.Params("name")
	fullPath, err := c.fileSvc.Resolve(name)
	if err != nil {
		logger.Warnf("error resolving segment %s: %v", name, err)
		return utils.Ternary(
			errors.Is(err, file.ErrFileNotFound),
			fiber.ErrNotFound,
			fiber.ErrForbidden)
	}
	deleteSource, err := utils.ParseBool(utils.EmptyOrElse(ctx.Query("delete"), "false"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid delete flag")
	}
	task, err := c.convertSvc.EnqueueTask(fullPath, "mp4", deleteSource)
	switch {
	case err == nil:
		return ctx.JSON(task)
	case errors.Is(err, convert.ErrAlreadyQueued):
		return fiber.NewError(fiber.StatusConflict, "segment already queued")
	case errors.Is(err, convert.ErrFFmpegNotInstalled):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case os.IsNotExist(err):
		return fiber.ErrNotFound
	default:
		logger.Errorf("error enqueueing convert task for %s: %v", name, err)
		return fiber.ErrInternalServerError
	}
}
