package file

import (
	"errors"
	"os"
	"strconv"

	"github.com/eric2788/webcamrec/internal/services/catalog"
	"github.com/eric2788/webcamrec/internal/services/file"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "file")

type Controller struct {
	fileSvc    *file.Service
	catalogSvc *catalog.Service
}

func NewController(app *fiber.App, fileSvc *file.Service, catalogSvc *catalog.Service) *Controller {
	fc := &Controller{
		fileSvc:    fileSvc,
		catalogSvc: catalogSvc,
	}

	segments := app.Group("/segments")
	segments.Get("/", fc.listSegments)
	segments.Get("/index", fc.listIndex)
	segments.Get("/:name", fc.downloadSegment)
	segments.Delete("/:name", fc.deleteSegment)

	app.Get("/storage", fc.getStorage)
	return fc
}

// @Summary List segment files
// @Description List published raw segments and remuxed mp4 files, newest first
// @Tags segments
// @Security BearerAuth
// @Produce json
// @Success 200 {array} file.Tree
// @Router /segments [get]
func (c *Controller) listSegments(ctx fiber.Ctx) error {
	trees, err := c.fileSvc.ListSegments()
	if err != nil {
		logger.Warnf("error listing segments: %v", err)
		return parseFiberError(err)
	}
	return ctx.JSON(trees)
}

// @Summary List indexed segments
// @Description List catalog entries, newest first
// @Tags segments
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {array} catalog.Entry
// @Router /segments/index [get]
func (c *Controller) listIndex(ctx fiber.Ctx) error {
	limit, err := strconv.Atoi(ctx.Query("limit", "0"))
	if err != nil || limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid limit")
	}
	entries, err := c.catalogSvc.List(limit)
	if err != nil {
		logger.Errorf("error listing catalog: %v", err)
		return fiber.ErrInternalServerError
	}
	return ctx.JSON(entries)
}

// @Summary Download a segment
// @Tags segments
// @Security BearerAuth
// @Produce octet-stream
// @Param name path string true "Segment file name"
// @Success 200 {file} binary "File stream"
// @Failure 403 {string} string "Forbidden"
// @Failure 404 {string} string "Not found"
// @Router /segments/{name} [get]
func (c *Controller) downloadSegment(ctx fiber.Ctx) error {
	name := ctx.Params("name")
	fullPath, err := c.fileSvc.Resolve(name)
	if err != nil {
		logger.Warnf("error resolving segment %s: %v", name, err)
		return parseFiberError(err)
	}
	ctx.Attachment(fullPath) // SendFile does not set the filename
	return ctx.SendFile(fullPath, fiber.SendFile{
		ByteRange: true,
	})
}

// @Summary Delete a segment
// @Description Delete the file and its catalog entry
// @Tags segments
// @Security BearerAuth
// @Param name path string true "Segment file name"
// @Success 204 "No Content"
// @Failure 403 {string} string "Forbidden"
// @Failure 404 {string} string "Not found"
// @Router /segments/{name} [delete]
func (c *Controller) deleteSegment(ctx fiber.Ctx) error {
	name := ctx.Params("name")
	if err := c.fileSvc.Delete(name); err != nil {
		logger.Warnf("error deleting segment %s: %v", name, err)
		return parseFiberError(err)
	}
	if err := c.catalogSvc.Delete(name); err != nil {
		logger.Warnf("segment %s deleted but catalog entry remains: %v", name, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// @Summary Get storage usage
// @Tags segments
// @Security BearerAuth
// @Produce json
// @Success 200 {object} file.Usage
// @Router /storage [get]
func (c *Controller) getStorage(ctx fiber.Ctx) error {
	usage, err := c.fileSvc.DiskUsage()
	if err != nil {
		logger.Errorf("error reading disk usage: %v", err)
		return fiber.ErrInternalServerError
	}
	return ctx.JSON(usage)
}

func parseFiberError(err error) error {
	switch {
	case errors.Is(err, file.ErrFileNotFound), os.IsNotExist(err):
		return fiber.NewError(fiber.StatusNotFound, "segment not found")
	case errors.Is(err, file.ErrAccessDenied), os.IsPermission(err):
		return fiber.NewError(fiber.StatusForbidden, "access denied")
	case errors.Is(err, file.ErrInvalidFilePath), errors.Is(err, file.ErrIsDirectory):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.ErrInternalServerError
	}
}
