package record_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eric2788/webcamrec/internal/controllers/record"
	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/services/recorder"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T) (*fiber.App, *recorder.Service) {
	t.Helper()
	svc := recorder.New(&config.Config{SaveDir: t.TempDir(), HLSDir: t.TempDir()})
	app := fiber.New()
	record.NewController(app, svc)
	return app, svc
}

func put(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRecordController_Settings(t *testing.T) {
	app, svc := newApp(t)

	resp := put(t, app, "/settings/is_recording", `{"value":"true"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var result record.SettingResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "true", result.Value)
	assert.Equal(t, recorder.Stopped, result.Status.State)
	assert.Equal(t, "true", svc.Settings()[recorder.SettingRecording])

	assert.Equal(t, fiber.StatusNotFound, put(t, app, "/settings/brightness", `{"value":"1"}`).StatusCode)
	assert.Equal(t, fiber.StatusBadRequest, put(t, app, "/settings/is_recording", `{"value":"perhaps"}`).StatusCode)
}

func TestRecordController_StatusWhileStopped(t *testing.T) {
	app, _ := newApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/record/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "stopped", status["state"])

	// recording toggles are queued until the camera runs
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/record/on", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
