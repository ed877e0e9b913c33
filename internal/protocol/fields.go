package protocol

// fieldKind selects how one field is written and read. The kind fixes the
// field's byte width, so layout size is derived, never hand-counted.
type fieldKind uint8

const (
	fieldCoord fieldKind = iota // quantized float32 as int16
	fieldU8
	fieldI8
	fieldU16
	fieldName // NameBytes, zero-padded, NUL-terminated on read
)

func (k fieldKind) width() int {
	switch k {
	case fieldCoord, fieldU16:
		return 2
	case fieldU8, fieldI8:
		return 1
	case fieldName:
		return NameBytes
	}
	return 0
}

// fieldDef binds one wire field to its Snapshot storage. Exactly one
// accessor is set, matching the kind; encode and decode both walk the
// same table in order, which is what keeps the two directions in sync.
type fieldDef struct {
	label string
	kind  fieldKind

	coord func(*Snapshot) *float32
	u8    func(*Snapshot) *uint8
	i8    func(*Snapshot) *int8
	u16   func(*Snapshot) *uint16
	str   func(*Snapshot) *string
}

// payloadFields is the wire layout, in transmission order. Changing this
// table is a breaking wire change: there is no version field, peers agree
// on the layout at build time.
var payloadFields = []fieldDef{
	{label: "pos.x", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.Pos[0] }},
	{label: "pos.y", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.Pos[1] }},
	{label: "pos.z", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.Pos[2] }},
	{label: "weapon", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.Weapon }},
	{label: "ammo", kind: fieldU16, u16: func(s *Snapshot) *uint16 { return &s.Ammo }},
	{label: "health", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.Health }},
	{label: "cashDelta", kind: fieldI8, i8: func(s *Snapshot) *int8 { return &s.CashDelta }},
	{label: "scoreDelta", kind: fieldI8, i8: func(s *Snapshot) *int8 { return &s.ScoreDelta }},
	{label: "cash", kind: fieldU16, u16: func(s *Snapshot) *uint16 { return &s.Cash }},
	{label: "score", kind: fieldU16, u16: func(s *Snapshot) *uint16 { return &s.Score }},
	{label: "flags", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.Flags }},
	{label: "name", kind: fieldName, str: func(s *Snapshot) *string { return &s.Name }},
	{label: "joinSeconds", kind: fieldU16, u16: func(s *Snapshot) *uint16 { return &s.JoinSeconds }},
	{label: "rayOrigin.x", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.RayOrigin[0] }},
	{label: "rayOrigin.y", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.RayOrigin[1] }},
	{label: "rayOrigin.z", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.RayOrigin[2] }},
	{label: "rayDir.x", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.RayDir[0] }},
	{label: "rayDir.y", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.RayDir[1] }},
	{label: "rayDir.z", kind: fieldCoord, coord: func(s *Snapshot) *float32 { return &s.RayDir[2] }},
	{label: "rayDamage", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.RayDamage }},
	{label: "damageId", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.DamageID }},
	{label: "eventKind", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.EventKind }},
	{label: "eventTeam", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.EventTeam }},
	{label: "eventId", kind: fieldU8, u8: func(s *Snapshot) *uint8 { return &s.EventID }},
	{label: "eventTarget", kind: fieldName, str: func(s *Snapshot) *string { return &s.EventTarget }},
}

// ChecksumSize is the width of the trailing checksum field.
const ChecksumSize = 2

// PayloadSize is the summed width of the field table, excluding the
// trailing checksum.
var PayloadSize = func() int {
	n := 0
	for _, f := range payloadFields {
		n += f.kind.width()
	}
	return n
}()

// PacketSize is the full wire size of one encoded snapshot.
var PacketSize = PayloadSize + ChecksumSize
