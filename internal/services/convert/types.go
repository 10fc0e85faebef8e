package convert

import "context"

// BusyCheck reports whether conversions should wait, e.g. while a segment is
// being recorded on the same disk.
type BusyCheck func() bool

// ConvertedHook is told about every finished task.
type ConvertedHook func(task *TaskQueue)

type ConvertManager interface {
	StartWorker(ctx context.Context) error
	Enqueue(inputPath, outputPath, format string, deleteSource bool) (*TaskQueue, error)
	Cancel(taskID string) error
	ListInProgress() ([]*TaskQueue, error)
}

type TaskQueue struct {
	TaskID       string `json:"task_id"`
	InputPath    string `json:"input_path"`
	OutputPath   string `json:"output_path"`
	InputFormat  string `json:"input_format"`
	OutputFormat string `json:"output_format"`
	DeleteSource bool   `json:"delete_source"`
}
