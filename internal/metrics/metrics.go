// Package metrics holds the Prometheus collectors exported on /metrics.
// Labels are limited to process and sink names, never run ids or file names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProcessStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_process_starts_total",
		Help: "Total number of external process launches, by process.",
	}, []string{"process"})

	ProcessExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_process_exits_total",
		Help: "Total number of external process exits, by process and reason (crash/stall/stop).",
	}, []string{"process", "reason"})

	ProcessSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_process_signals_total",
		Help: "Signals sent to process groups, by process and signal.",
	}, []string{"process", "signal"})

	ProcessFatalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_process_fatal_total",
		Help: "Times a process exhausted its restart budget.",
	}, []string{"process"})

	SplitterChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcamrec_splitter_chunks_total",
		Help: "Chunks read from the capture process and fanned out.",
	})

	SplitterBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcamrec_splitter_bytes_total",
		Help: "Bytes read from the capture process.",
	})

	SinkDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_sink_dropped_chunks_total",
		Help: "Chunks dropped because a sink queue was full, by sink.",
	}, []string{"sink"})

	SegmentsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_segments_closed_total",
		Help: "Segment files published, by close reason.",
	}, []string{"reason"})

	SegmentBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcamrec_segment_bytes_total",
		Help: "Bytes written into published segment files.",
	})

	StorageFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcamrec_storage_failures_total",
		Help: "Segment write failures that disabled recording.",
	})

	ControllerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "webcamrec_controller_state",
		Help: "1 for the current recording controller state, 0 otherwise.",
	}, []string{"state"})

	ConvertTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcamrec_convert_tasks_total",
		Help: "Finished mp4 conversion tasks, by result.",
	}, []string{"result"})
)

func IncProcessStart(process string) {
	ProcessStartsTotal.WithLabelValues(process).Inc()
}

func IncProcessExit(process, reason string) {
	ProcessExitsTotal.WithLabelValues(process, reason).Inc()
}

func IncProcessSignal(process, signal string) {
	ProcessSignalsTotal.WithLabelValues(process, signal).Inc()
}

func IncProcessFatal(process string) {
	ProcessFatalTotal.WithLabelValues(process).Inc()
}

func IncSinkDropped(sink string) {
	SinkDroppedTotal.WithLabelValues(sink).Inc()
}

func AddChunk(n int) {
	SplitterChunksTotal.Inc()
	SplitterBytesTotal.Add(float64(n))
}

func ObserveSegment(reason string, bytes int64) {
	SegmentsClosedTotal.WithLabelValues(reason).Inc()
	SegmentBytesTotal.Add(float64(bytes))
}

// SetState flips the controller state gauge so exactly one label is 1.
func SetState(current string, all []string) {
	for _, s := range all {
		if s == current {
			ControllerState.WithLabelValues(s).Set(1)
		} else {
			ControllerState.WithLabelValues(s).Set(0)
		}
	}
}
