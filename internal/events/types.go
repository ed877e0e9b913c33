// Package events defines the event types flowing between the session
// engine and the operational shell.
package events

import "encoding/json"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Peer lifecycle events
	EventPeerJoined    EventType = "peer_joined"
	EventPeerLost      EventType = "peer_lost"
	EventPeerRespawned EventType = "peer_respawned"
	EventPeerStall     EventType = "peer_stall"

	// Combat and economy events
	EventFeed           EventType = "feed"
	EventDamageTaken    EventType = "damage_taken"
	EventLocalDowned    EventType = "local_downed"
	EventLocalRespawned EventType = "local_respawned"
	EventShareReceived  EventType = "share_received"
	EventShareSent      EventType = "share_sent"
	EventCatchUpSent    EventType = "catch_up_sent"

	// Link events
	EventLinkState       EventType = "link_state"
	EventChecksumToggled EventType = "checksum_toggled"
	EventCallsignChanged EventType = "callsign_changed"

	// Notification events
	EventNotifyWebhook EventType = "notify_webhook"
	EventNotifyMQTT    EventType = "notify_mqtt"
	EventAlertRaised   EventType = "alert_raised"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// LinkStatus represents the current state of the LAN link.
type LinkStatus int

const (
	LinkStatusDown     LinkStatus = iota // socket not bound yet
	LinkStatusUp                         // bound and exchanging snapshots
	LinkStatusDegraded                   // session running without a socket
	LinkStatusDisabled                   // sync disabled in configuration
)

// linkStatusStrings maps LinkStatus values to their lowercase JSON string representation.
var linkStatusStrings = map[LinkStatus]string{
	LinkStatusDown:     "down",
	LinkStatusUp:       "up",
	LinkStatusDegraded: "degraded",
	LinkStatusDisabled: "disabled",
}

// String returns the string representation of LinkStatus.
func (s LinkStatus) String() string {
	if str, ok := linkStatusStrings[s]; ok {
		return str
	}
	return "down"
}

// MarshalJSON serializes LinkStatus as a JSON string (e.g. "up").
func (s LinkStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the string form produced by MarshalJSON.
func (s *LinkStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for status, name := range linkStatusStrings {
		if name == str {
			*s = status
			return nil
		}
	}
	*s = LinkStatusDown
	return nil
}

// FeedKind classifies an entry in the combat feed.
type FeedKind int

const (
	FeedKindNone FeedKind = iota
	FeedKindFrag
	FeedKindAssist
)

// feedKindStrings maps FeedKind values to their lowercase JSON string representation.
var feedKindStrings = map[FeedKind]string{
	FeedKindNone:   "none",
	FeedKindFrag:   "frag",
	FeedKindAssist: "assist",
}

// String returns the string representation of FeedKind.
func (k FeedKind) String() string {
	if str, ok := feedKindStrings[k]; ok {
		return str
	}
	return "none"
}

// MarshalJSON serializes FeedKind as a JSON string (e.g. "frag").
func (k FeedKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses the string form produced by MarshalJSON.
func (k *FeedKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for kind, name := range feedKindStrings {
		if name == str {
			*k = kind
			return nil
		}
	}
	*k = FeedKindNone
	return nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PeerPayload describes the peer a lifecycle event refers to.
type PeerPayload struct {
	Addr     string `json:"addr"`
	Callsign string `json:"callsign"`
	Team     uint8  `json:"team"`
}

// FeedPayload carries one combat feed entry.
type FeedPayload struct {
	Kind   FeedKind `json:"kind"`
	Actor  string   `json:"actor"`
	Target string   `json:"target"`
	Team   uint8    `json:"team"`
}

// DamagePayload describes a replicated hit applied to local health.
type DamagePayload struct {
	Attacker string `json:"attacker"`
	Damage   int    `json:"damage"`
	Health   int    `json:"health"`
}

// SharePayload describes cash/score deltas applied from or granted to a peer.
type SharePayload struct {
	Peer  string `json:"peer"`
	Cash  int    `json:"cash"`
	Score int    `json:"score"`

	// CatchUp marks the one-time bonus granted to a fresh joiner.
	CatchUp bool `json:"catchUp,omitempty"`
}

// StallPayload describes an abnormal gap between snapshots from one peer.
type StallPayload struct {
	Addr     string  `json:"addr"`
	Callsign string  `json:"callsign"`
	Gap      float64 `json:"gap"`
}

// LinkStatePayload is emitted when the link status changes.
type LinkStatePayload struct {
	Status LinkStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// NotifyWebhookPayload is used for sending webhook notifications.
type NotifyWebhookPayload struct {
	Title   string
	Message string
	Level   string // "info", "warning", "error"
}

// AlertPayload is recorded to the journal and forwarded to notifiers.
type AlertPayload struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
