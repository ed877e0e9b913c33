package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lanlink-project/lanlink/internal/events"
)

// Stall pressure thresholds, in events per peer per hour.
const (
	stallWarningThreshold  = 6
	stallCriticalThreshold = 20
)

// stallHistorySize bounds the per-peer stall record.
const stallHistorySize = 200

// StallRecord is a single reported broadcast gap.
type StallRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Gap       float64   `json:"gap_sec"`
}

// PeerStallData aggregates stall reports for one peer address.
type PeerStallData struct {
	Addr           string        `json:"addr"`
	Callsign       string        `json:"callsign"`
	TotalStalls    int           `json:"total_stalls"`
	StallsThisHour int           `json:"stalls_this_hour"`
	LastStallTime  time.Time     `json:"last_stall_time"`
	MaxGap         float64       `json:"max_gap_sec"`
	AvgGap         float64       `json:"avg_gap_sec"`
	History        []StallRecord `json:"history"`
}

// StallAlert flags a peer whose stall rate crossed a threshold.
type StallAlert struct {
	Addr     string `json:"addr"`
	Callsign string `json:"callsign"`
	Level    string `json:"level"`
	Stalls   int    `json:"stalls"`
	Message  string `json:"message"`
}

// StallMonitor accumulates the session's peer-stall events and grades
// each peer's link quality. A stall is a broadcast gap long enough
// that several consecutive datagrams must have been lost; a peer
// stalling repeatedly points at a saturated or flaky segment between
// here and there.
type StallMonitor struct {
	mu       sync.RWMutex
	peerData map[string]*PeerStallData
}

// NewStallMonitor builds the monitor and subscribes it to the bus.
// Stall pressure is a live-link property, so a peer's aggregate is
// dropped when the peer leaves the table.
func NewStallMonitor(bus *events.EventBus) *StallMonitor {
	sm := &StallMonitor{
		peerData: make(map[string]*PeerStallData),
	}
	bus.Subscribe(events.EventPeerStall, "stall_monitor", sm.handleStall)
	bus.Subscribe(events.EventPeerLost, "stall_monitor", sm.handlePeerLost)
	return sm
}

func (sm *StallMonitor) handleStall(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.StallPayload)
	if !ok {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, ok := sm.peerData[payload.Addr]
	if !ok {
		data = &PeerStallData{
			Addr:    payload.Addr,
			History: make([]StallRecord, 0, 16),
		}
		sm.peerData[payload.Addr] = data
	}

	now := time.Now()
	data.Callsign = payload.Callsign
	data.TotalStalls++
	data.LastStallTime = now
	data.History = append(data.History, StallRecord{Timestamp: now, Gap: payload.Gap})
	if len(data.History) > stallHistorySize {
		data.History = data.History[len(data.History)-stallHistorySize:]
	}

	if payload.Gap > data.MaxGap {
		data.MaxGap = payload.Gap
	}

	var total float64
	for _, rec := range data.History {
		total += rec.Gap
	}
	data.AvgGap = total / float64(len(data.History))

	oneHourAgo := now.Add(-1 * time.Hour)
	recent := 0
	for _, rec := range data.History {
		if rec.Timestamp.After(oneHourAgo) {
			recent++
		}
	}
	data.StallsThisHour = recent

	return nil
}

func (sm *StallMonitor) handlePeerLost(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.PeerPayload); ok {
		sm.Forget(p.Addr)
	}
	return nil
}

// Data returns a copy of the per-peer stall aggregates.
func (sm *StallMonitor) Data() map[string]*PeerStallData {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make(map[string]*PeerStallData, len(sm.peerData))
	for addr, data := range sm.peerData {
		cp := *data
		cp.History = append([]StallRecord(nil), data.History...)
		out[addr] = &cp
	}
	return out
}

// CheckThresholds grades every tracked peer against the stall-rate
// thresholds.
func (sm *StallMonitor) CheckThresholds() []StallAlert {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var alerts []StallAlert
	for addr, data := range sm.peerData {
		var level string
		switch {
		case data.StallsThisHour >= stallCriticalThreshold:
			level = "critical"
		case data.StallsThisHour >= stallWarningThreshold:
			level = "warning"
		default:
			continue
		}
		alerts = append(alerts, StallAlert{
			Addr:     addr,
			Callsign: data.Callsign,
			Level:    level,
			Stalls:   data.StallsThisHour,
			Message: fmt.Sprintf("peer %s (%s): %d broadcast stalls in the last hour",
				data.Callsign, addr, data.StallsThisHour),
		})
	}
	return alerts
}

// Forget drops the aggregate for a departed peer.
func (sm *StallMonitor) Forget(addr string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.peerData, addr)
}
