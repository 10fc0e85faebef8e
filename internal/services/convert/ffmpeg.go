package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/eric2788/webcamrec/internal/metrics"
	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/eric2788/webcamrec/pkg/ds"
	"github.com/eric2788/webcamrec/pkg/pool"
	"github.com/eric2788/webcamrec/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"
)

const ffmpegBucket = "Queue_FFmpeg"

var ErrAlreadyQueued = fmt.Errorf("input already queued")

type ffmpegConvertManager struct {
	binary     string
	interval   time.Duration
	bucket     *db.Bucket
	logger     *logrus.Entry
	serializer *pool.Serializer
	queued     ds.Set[string]
	running    *semaphore.Weighted
	busy       atomic.Pointer[BusyCheck]
	onDone     atomic.Pointer[ConvertedHook]
	wake       chan struct{}
}

func newFFmpegConvertManager(client *db.Client, binary string, interval time.Duration) (*ffmpegConvertManager, error) {
	bucket, err := client.Bucket(ffmpegBucket)
	if err != nil {
		return nil, err
	}
	return &ffmpegConvertManager{
		binary:     binary,
		interval:   interval,
		bucket:     bucket,
		logger:     logger.WithField("manager", "ffmpeg"),
		serializer: pool.NewSerializer(),
		queued:     ds.NewSyncedSet[string](),
		running:    semaphore.NewWeighted(1),
		wake:       make(chan struct{}, 1),
	}, nil
}

func (f *ffmpegConvertManager) StartWorker(ctx context.Context) error {
	if !utils.BinaryAvailable(f.binary) {
		return fmt.Errorf("%w: %s", ErrFFmpegNotInstalled, f.binary)
	}
	// tasks persisted by a previous run keep their dedupe slot
	tasks, err := f.ListInProgress()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		f.queued.Add(t.InputPath)
	}
	if len(tasks) > 0 {
		f.logger.Infof("resuming %d queued tasks", len(tasks))
	}
	go f.runTaskPeriodically(ctx)
	return nil
}

func (f *ffmpegConvertManager) Enqueue(inputPath, outputPath, format string, deleteSource bool) (*TaskQueue, error) {
	if !f.queued.TryAdd(inputPath) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, inputPath)
	}
	queue := &TaskQueue{
		TaskID:       uuid.NewString(),
		InputPath:    inputPath,
		OutputPath:   outputPath,
		InputFormat:  utils.GetPathFormat(inputPath),
		OutputFormat: format,
		DeleteSource: deleteSource,
	}
	data, err := f.serializer.Serialize(queue)
	if err == nil {
		err = f.bucket.Put([]byte(queue.TaskID), data)
	}
	if err != nil {
		f.queued.Remove(inputPath)
		return nil, err
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return queue, nil
}

func (f *ffmpegConvertManager) Cancel(taskID string) error {
	var input string
	err := f.bucket.Modify([]byte(taskID), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, ErrTaskNotFound
		}
		task, err := pool.Decode[TaskQueue](f.serializer, old)
		if err == nil {
			input = task.InputPath
		}
		return nil, nil
	})
	if err == nil && input != "" {
		f.queued.Remove(input)
	}
	return err
}

func (f *ffmpegConvertManager) ListInProgress() ([]*TaskQueue, error) {
	queues := make([]*TaskQueue, 0)
	err := f.bucket.ForEach(func(k, v []byte) error {
		var queue TaskQueue
		if err := f.serializer.Deserialize(v, &queue); err != nil {
			return fmt.Errorf("deserialize task %s: %w", string(k), err)
		}
		queues = append(queues, &queue)
		return nil
	})
	return queues, err
}

func (f *ffmpegConvertManager) setBusyCheck(check BusyCheck) {
	f.busy.Store(&check)
}

func (f *ffmpegConvertManager) setConvertedHook(hook ConvertedHook) {
	f.onDone.Store(&hook)
}

func (f *ffmpegConvertManager) isBusy() bool {
	check := f.busy.Load()
	return check != nil && *check != nil && (*check)()
}

func (f *ffmpegConvertManager) runTaskPeriodically(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-f.wake:
		case <-ctx.Done():
			return
		}
		for f.runNext(ctx) {
		}
	}
}

// runNext processes the oldest queued task and reports whether another
// attempt should follow immediately.
func (f *ffmpegConvertManager) runNext(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if f.isBusy() {
		f.logger.Debug("recording in progress, skipping ffmpeg tasks")
		return false
	}
	if !f.running.TryAcquire(1) {
		return false
	}
	defer f.running.Release(1)

	var queue *TaskQueue
	if err := f.bucket.View(func(bucket *bbolt.Bucket) error {
		k, v := bucket.Cursor().First()
		if k == nil {
			return nil
		}
		queue = &TaskQueue{}
		if err := f.serializer.Deserialize(v, queue); err != nil {
			return fmt.Errorf("deserialize task %s: %w", string(k), err)
		}
		return nil
	}); err != nil {
		f.logger.Errorf("reading ffmpeg queue task failed: %v", err)
		return false
	} else if queue == nil {
		return false
	}

	taskLog := f.logger.WithField("task_id", queue.TaskID)
	taskLog.Infof("processing ffmpeg task input=%s output=%s", queue.InputPath, queue.OutputPath)

	result := "ok"
	if err := f.processTask(ctx, queue, taskLog); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// failed tasks leave the queue too
		taskLog.Errorf("ffmpeg task failed, removing it: %v", err)
		result = "failed"
	}
	metrics.ConvertTasksTotal.WithLabelValues(result).Inc()

	if err := utils.WithRetry(3, taskLog, "delete task", func() error {
		return f.bucket.Delete([]byte(queue.TaskID))
	}); err != nil {
		taskLog.Errorf("failed to remove ffmpeg task from queue: %v", err)
		return false
	}
	f.queued.Remove(queue.InputPath)

	if result == "ok" {
		if hook := f.onDone.Load(); hook != nil && *hook != nil {
			(*hook)(queue)
		}
		taskLog.Info("completed and removed from queue")
	}
	return true
}

func (f *ffmpegConvertManager) processTask(ctx context.Context, queue *TaskQueue, taskLog *logrus.Entry) error {
	if utils.IsFileExists(queue.OutputPath) {
		taskLog.Warnf("output file %s already exists, skipping conversion", queue.OutputPath)
		return nil
	}
	if !utils.IsFileExists(queue.InputPath) {
		return fmt.Errorf("input %s: %w", queue.InputPath, os.ErrNotExist)
	}

	// raw input has no container, declare it as an h264 elementary stream
	cmd := exec.CommandContext(ctx,
		f.binary,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", "h264",
		"-i", queue.InputPath,
		"-c", "copy",
		queue.OutputPath,
	)

	out := taskLog.WriterLevel(logrus.DebugLevel)
	defer out.Close()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		_ = os.Remove(queue.OutputPath)
		return err
	} else if !queue.DeleteSource || queue.InputPath == queue.OutputPath {
		return nil
	}

	return utils.WithRetry(3, taskLog, "delete source file", func() error {
		err := os.Remove(queue.InputPath)
		if errors.Is(err, os.ErrNotExist) {
			taskLog.Debugf("source file %s does not exist, skipping delete", queue.InputPath)
			return nil
		}
		return err
	})
}
