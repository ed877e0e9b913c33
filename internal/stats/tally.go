package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lanlink-project/lanlink/internal/events"
)

// ActorTally counts combat feed lines credited to one callsign.
type ActorTally struct {
	Frags   int `json:"frags"`
	Assists int `json:"assists"`
}

// ShareTotals sums gift traffic in one direction.
type ShareTotals struct {
	Count int `json:"count"`
	Cash  int `json:"cash"`
	Score int `json:"score"`
}

// TallySnapshot is the session's running totals since node start.
type TallySnapshot struct {
	StartedAt     time.Time             `json:"started_at"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Actors        map[string]ActorTally `json:"actors"`
	SharesIn      ShareTotals           `json:"shares_in"`
	SharesOut     ShareTotals           `json:"shares_out"`
	CatchUps      ShareTotals           `json:"catch_ups_granted"`
	DamageTaken   int                   `json:"damage_taken"`
	HitsTaken     int                   `json:"hits_taken"`
	Downs         int                   `json:"downs"`
	PeersSeen     []string              `json:"peers_seen"`
}

// tally accumulates bus events into running totals. Unlike the polled
// gauges it never resets while the node runs.
type tally struct {
	mu        sync.RWMutex
	startedAt time.Time
	actors    map[string]*ActorTally
	sharesIn  ShareTotals
	sharesOut ShareTotals
	catchUps  ShareTotals
	damage    int
	hits      int
	downs     int
	seen      map[string]struct{}
}

func newTally() *tally {
	return &tally{
		startedAt: time.Now(),
		actors:    make(map[string]*ActorTally),
		seen:      make(map[string]struct{}),
	}
}

func (t *tally) attach(bus *events.EventBus) {
	bus.Subscribe(events.EventFeed, "tally", t.onFeed)
	bus.Subscribe(events.EventShareReceived, "tally", t.onShareIn)
	bus.Subscribe(events.EventShareSent, "tally", t.onShareOut)
	bus.Subscribe(events.EventCatchUpSent, "tally", t.onCatchUp)
	bus.Subscribe(events.EventDamageTaken, "tally", t.onDamage)
	bus.Subscribe(events.EventLocalDowned, "tally", t.onDowned)
	bus.Subscribe(events.EventPeerJoined, "tally", t.onPeerJoined)
}

func (t *tally) onFeed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.FeedPayload)
	if !ok || p.Actor == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch p.Kind {
	case events.FeedKindFrag:
		t.actor(p.Actor).Frags++
	case events.FeedKindAssist:
		t.actor(p.Actor).Assists++
	}
	return nil
}

func (t *tally) onShareIn(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.SharePayload); ok {
		t.mu.Lock()
		t.sharesIn.add(p)
		t.mu.Unlock()
	}
	return nil
}

func (t *tally) onShareOut(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.SharePayload); ok {
		t.mu.Lock()
		t.sharesOut.add(p)
		t.mu.Unlock()
	}
	return nil
}

func (t *tally) onCatchUp(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.SharePayload); ok {
		t.mu.Lock()
		t.catchUps.add(p)
		t.mu.Unlock()
	}
	return nil
}

func (t *tally) onDamage(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.DamagePayload); ok {
		t.mu.Lock()
		t.damage += p.Damage
		t.hits++
		t.mu.Unlock()
	}
	return nil
}

// onDowned also books the killing hit: the session reports it through
// the downed event, not as a separate damage event.
func (t *tally) onDowned(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.DamagePayload); ok {
		t.mu.Lock()
		t.damage += p.Damage
		t.hits++
		t.downs++
		t.mu.Unlock()
	}
	return nil
}

func (t *tally) onPeerJoined(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PeerPayload)
	if !ok {
		return nil
	}
	name := p.Callsign
	if name == "" {
		name = p.Addr
	}
	t.mu.Lock()
	t.seen[name] = struct{}{}
	t.mu.Unlock()
	return nil
}

// actor is called with the lock held.
func (t *tally) actor(name string) *ActorTally {
	a := t.actors[name]
	if a == nil {
		a = &ActorTally{}
		t.actors[name] = a
	}
	return a
}

func (t *tally) snapshot() TallySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := TallySnapshot{
		StartedAt:     t.startedAt,
		UptimeSeconds: time.Since(t.startedAt).Seconds(),
		Actors:        make(map[string]ActorTally, len(t.actors)),
		SharesIn:      t.sharesIn,
		SharesOut:     t.sharesOut,
		CatchUps:      t.catchUps,
		DamageTaken:   t.damage,
		HitsTaken:     t.hits,
		Downs:         t.downs,
		PeersSeen:     make([]string, 0, len(t.seen)),
	}
	for name, a := range t.actors {
		snap.Actors[name] = *a
	}
	for name := range t.seen {
		snap.PeersSeen = append(snap.PeersSeen, name)
	}
	sort.Strings(snap.PeersSeen)
	return snap
}

func (st *ShareTotals) add(p events.SharePayload) {
	st.Count++
	st.Cash += p.Cash
	st.Score += p.Score
}
