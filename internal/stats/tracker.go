// Package stats samples host and session gauges on a fixed cadence,
// keeps a bounded history for the API and the health checks, and
// aggregates bus events into running session tallies.
package stats

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/util"
)

// historySize bounds the retained sample ring. At the default 10s
// polling cadence this covers one hour.
const historySize = 360

// Sample is one polled set of gauges.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`

	// Host gauges
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`

	// This process
	ProcCPUPercent float64 `json:"proc_cpu_percent"`
	ProcRSSMB      float64 `json:"proc_rss_mb"`

	// Session gauges
	Status    string  `json:"status"`
	Peers     int     `json:"peers"`
	Clock     float64 `json:"clock"`
	SendRate  float64 `json:"packets_sent_per_sec"`
	RecvRate  float64 `json:"packets_recv_per_sec"`
	TxBytes   float64 `json:"bytes_sent_per_sec"`
	RxBytes   float64 `json:"bytes_recv_per_sec"`
	SendErrs  uint64  `json:"send_errors"`
	DropTotal uint64  `json:"drops_total"`
}

// Tracker polls gauges for one session. Poll runs on the health
// manager's cadence; readers take copies under the lock.
type Tracker struct {
	mu      sync.RWMutex
	log     zerolog.Logger
	session *lan.Session
	proc    *process.Process
	tally   *tally

	lastCounters lan.Counters
	lastPolledAt time.Time

	current Sample
	history []Sample
}

// NewTracker builds a tracker over the given session.
func NewTracker(session *lan.Session) *Tracker {
	t := &Tracker{
		log:     util.ComponentLogger("stats"),
		session: session,
		tally:   newTally(),
		history: make([]Sample, 0, historySize),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		t.proc = proc
	} else {
		t.log.Warn().Err(err).Msg("self process handle unavailable")
	}
	return t
}

// Attach subscribes the running tally to the session's bus events.
func (t *Tracker) Attach(bus *events.EventBus) {
	t.tally.attach(bus)
}

// Tally returns the running totals since node start.
func (t *Tracker) Tally() TallySnapshot {
	return t.tally.snapshot()
}

// Poll takes one sample. Rate gauges are derived from the counter
// deltas since the previous poll.
func (t *Tracker) Poll() {
	now := time.Now()
	view := t.session.View()

	sample := Sample{
		Timestamp: now,
		Status:    view.Status.String(),
		Peers:     len(view.Peers),
		Clock:     view.Clock,
		SendErrs:  view.Counters.SendErrors,
		DropTotal: view.Counters.DroppedShort +
			view.Counters.DroppedChecksum +
			view.Counters.DroppedSelf +
			view.Counters.DroppedTableFull,
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		sample.CPUPercent = percentages[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		sample.MemUsedPercent = memInfo.UsedPercent
	}
	if t.proc != nil {
		if p, err := t.proc.CPUPercent(); err == nil {
			sample.ProcCPUPercent = p
		}
		if memInfo, err := t.proc.MemoryInfo(); err == nil {
			sample.ProcRSSMB = float64(memInfo.RSS) / (1024 * 1024)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastPolledAt.IsZero() {
		elapsed := now.Sub(t.lastPolledAt).Seconds()
		if elapsed > 0 {
			c := view.Counters
			sample.SendRate = float64(c.PacketsSent-t.lastCounters.PacketsSent) / elapsed
			sample.RecvRate = float64(c.PacketsReceived-t.lastCounters.PacketsReceived) / elapsed
			sample.TxBytes = float64(c.BytesSent-t.lastCounters.BytesSent) / elapsed
			sample.RxBytes = float64(c.BytesReceived-t.lastCounters.BytesReceived) / elapsed
		}
	}
	t.lastCounters = view.Counters
	t.lastPolledAt = now

	t.current = sample
	t.history = append(t.history, sample)
	if len(t.history) > historySize {
		t.history = t.history[len(t.history)-historySize:]
	}
}

// Current returns the most recent sample.
func (t *Tracker) Current() Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// History returns a copy of the retained samples, oldest first.
func (t *Tracker) History() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Sample, len(t.history))
	copy(out, t.history)
	return out
}
