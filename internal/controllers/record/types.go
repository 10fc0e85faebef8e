package record

import "github.com/eric2788/webcamrec/internal/services/recorder"

type (
	SettingRequest struct {
		Value string `json:"value" form:"value"`
	}

	SettingResult struct {
		Name   string          `json:"name"`
		Value  string          `json:"value"`
		Status recorder.Status `json:"status"`
	}
)
