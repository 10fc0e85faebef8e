package recorder

import (
	"time"

	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/eric2788/webcamrec/pkg/splitter"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

type Status struct {
	State           State                   `json:"state" swaggertype:"string" enums:"stopped,starting,streaming,streaming_and_recording,stopping,failed"`
	Recording       bool                    `json:"is_recording"`
	QueuedRecording *bool                   `json:"queued_recording,omitempty"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	FailedComponent string                  `json:"failed_component,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Playlist        string                  `json:"playlist,omitempty"`
	CurrentSegment  *processors.SegmentInfo `json:"current_segment,omitempty"`
	LastSegment     *processors.SegmentInfo `json:"last_segment,omitempty"`
	Capture         *supervisor.ProcessInfo `json:"capture,omitempty"`
	Encoder         *supervisor.ProcessInfo `json:"encoder,omitempty"`
}

func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{
		State:           s.state,
		Recording:       s.recording,
		QueuedRecording: s.desired,
		FailedComponent: s.failedComponent,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	r := s.current
	if r != nil {
		started := s.startedAt
		st.StartedAt = &started
	}
	s.mu.Unlock()

	st.LastSegment = s.lastSegment.Load()
	if r == nil {
		return st
	}
	st.Playlist = r.packager.PlaylistPath()
	if seg, open := r.writer.Current(); open {
		st.CurrentSegment = &seg
	}
	capture := r.capture.Info()
	encoder := r.packager.Supervisor().Info()
	st.Capture, st.Encoder = &capture, &encoder
	return st
}

type ProcessUsage struct {
	Pid        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"rss"`
}

type Stats struct {
	State          State                     `json:"state" swaggertype:"string"`
	Uptime         time.Duration             `json:"uptime" swaggertype:"integer"`
	CapturedBytes  int64                     `json:"captured_bytes"`
	SegmentsClosed int64                     `json:"segments_closed"`
	Failures       int64                     `json:"failures"`
	Splitter       *splitter.Stats           `json:"splitter,omitempty"`
	Packager       *processors.PackagerStats `json:"packager,omitempty"`
	Processes      map[string]ProcessUsage   `json:"processes,omitempty"`
}

// Stats reports throughput counters and resource usage of the child processes.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{State: s.state}
	r := s.current
	if r != nil && s.state.Active() {
		st.Uptime = s.clock().Sub(s.startedAt)
	}
	s.mu.Unlock()

	st.SegmentsClosed = s.segments.Value()
	st.Failures = s.failures.Value()
	if r == nil {
		return st
	}
	st.CapturedBytes = r.bytes.Value()
	split := r.splitter.Stats()
	pkg := r.packager.Stats()
	st.Splitter, st.Packager = &split, &pkg

	st.Processes = make(map[string]ProcessUsage, 2)
	for name, info := range map[string]supervisor.ProcessInfo{
		"capture": r.capture.Info(),
		"encoder": r.packager.Supervisor().Info(),
	} {
		if !info.Running || info.Pid == 0 {
			continue
		}
		st.Processes[name] = usageOf(info.Pid)
	}
	return st
}

func usageOf(pid int) ProcessUsage {
	usage := ProcessUsage{Pid: pid}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return usage
	}
	if pct, err := p.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if mem, err := p.MemoryInfo(); err == nil {
		usage.RSS = mem.RSS
	}
	return usage
}

// RemuxDeferred holds back mp4 remuxing while a recording competes with it
// for cpu. Idle periods and a quiet system let the queue drain.
func (s *Service) RemuxDeferred() bool {
	if !s.IsRecording() {
		return false
	}
	load, err := cpu.Percent(0, false)
	if err != nil || len(load) == 0 {
		return true
	}
	return load[0] >= float64(s.cfg.RemuxCPUPercent)
}
