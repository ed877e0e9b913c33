package lan

import (
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/geom"
)

// SessionView is the immutable state snapshot the session publishes
// once per frame. Everything outside the session goroutine (API, CLI,
// MQTT, pilot) reads these; nothing ever writes one.
type SessionView struct {
	Clock  float64           `json:"clock"`
	Status events.LinkStatus `json:"status"`

	Self       SelfView   `json:"self"`
	Peers      []PeerView `json:"peers"`
	TeamScores [2]int     `json:"teamScores"`

	SharePip *SharePipView `json:"sharePip,omitempty"`
	Feed     []FeedEntry   `json:"feed"`

	Counters Counters `json:"counters"`
}

// SelfView describes the local avatar.
type SelfView struct {
	Addr      string      `json:"addr"`
	Callsign  string      `json:"callsign"`
	Team      uint8       `json:"team"`
	TeamMode  bool        `json:"teamMode"`
	Pos       geom.Vec3   `json:"pos"`
	Weapon    uint8       `json:"weapon"`
	Ammo      int         `json:"ammo"`
	Health    float32     `json:"health"`
	Cash      int         `json:"cash"`
	Score     int         `json:"score"`
	Downed    bool        `json:"downed"`
	RespawnIn float64     `json:"respawnIn,omitempty"`
	JoinAge   float64     `json:"joinAge"`
	Pending   PendingView `json:"pending"`
}

// PendingView shows what will ride the next outbound snapshot.
type PendingView struct {
	Cash     int  `json:"cash"`
	Score    int  `json:"score"`
	HasRay   bool `json:"hasRay"`
	HasEvent bool `json:"hasEvent"`
}

// PeerView describes one occupied peer slot.
type PeerView struct {
	Addr        string    `json:"addr"`
	Callsign    string    `json:"callsign"`
	Team        uint8     `json:"team"`
	Pos         geom.Vec3 `json:"pos"`
	RenderPos   geom.Vec3 `json:"renderPos"`
	Weapon      uint8     `json:"weapon"`
	Ammo        int       `json:"ammo"`
	Health      float32   `json:"health"`
	Cash        int       `json:"cash"`
	Score       int       `json:"score"`
	Downed      bool      `json:"downed"`
	JoinSeconds uint16    `json:"joinSeconds"`
	SeenAge     float64   `json:"seenAge"`
}

// SharePipView is the transient incoming-share indicator.
type SharePipView struct {
	Cash  int     `json:"cash"`
	Score int     `json:"score"`
	From  string  `json:"from"`
	Until float64 `json:"until"`
}

// FeedEntry is one line of the recent combat feed kept on the view for
// quick display. The full history lives in the journal.
type FeedEntry struct {
	Clock  float64         `json:"clock"`
	Kind   events.FeedKind `json:"kind"`
	Actor  string          `json:"actor"`
	Target string          `json:"target"`
	Team   uint8           `json:"team"`
}

// Counters are the session's raw link counters since start.
type Counters struct {
	PacketsSent      uint64 `json:"packetsSent"`
	PacketsReceived  uint64 `json:"packetsReceived"`
	BytesSent        uint64 `json:"bytesSent"`
	BytesReceived    uint64 `json:"bytesReceived"`
	DroppedShort     uint64 `json:"droppedShort"`
	DroppedChecksum  uint64 `json:"droppedChecksum"`
	DroppedSelf      uint64 `json:"droppedSelf"`
	DroppedTableFull uint64 `json:"droppedTableFull"`
	DuplicateDamage  uint64 `json:"duplicateDamage"`
	DuplicateEvents  uint64 `json:"duplicateEvents"`
	CatchUpsSent     uint64 `json:"catchUpsSent"`
	CatchUpBonuses   uint64 `json:"catchUpBonuses"`
	CommandsDropped  uint64 `json:"commandsDropped"`
	SendErrors       uint64 `json:"sendErrors"`
}

// feedRingSize bounds the on-view combat feed.
const feedRingSize = 8
