package lan

import "github.com/lanlink-project/lanlink/internal/geom"

// CommandType identifies what a queued command does.
type CommandType string

const (
	CommandMove         CommandType = "move"
	CommandFire         CommandType = "fire"
	CommandSelectWeapon CommandType = "select_weapon"
	CommandShare        CommandType = "share"
	CommandSetCallsign  CommandType = "set_callsign"
	CommandSetTeam      CommandType = "set_team"
	CommandSetPerk      CommandType = "set_perk"
	CommandSetChecksum  CommandType = "set_checksum"
	CommandSetEnabled   CommandType = "set_enabled"
	CommandRespawn      CommandType = "respawn"
)

// Perk names accepted by CommandSetPerk.
const (
	PerkQuickfire = "quickfire"
	PerkSpeed     = "speed"
	PerkRevive    = "revive"
)

// Command is one unit of pilot or operator input. Commands are the only
// way state enters the session from outside; they queue on a bounded
// channel and apply at the top of the next frame.
type Command struct {
	Type CommandType

	Move     *MoveCommand
	Fire     *FireCommand
	Weapon   *WeaponCommand
	Share    *ShareCommand
	Callsign *CallsignCommand
	Team     *TeamCommand
	Perk     *PerkCommand
	Toggle   *ToggleCommand
}

// MoveCommand sets the avatar's movement intent. The direction is
// normalized on apply; a zero vector stops the avatar.
type MoveCommand struct {
	Dir geom.Vec3
}

// FireCommand discharges the current weapon along Dir.
type FireCommand struct {
	Dir geom.Vec3
}

// WeaponCommand switches the current weapon.
type WeaponCommand struct {
	Index uint8
}

// ShareCommand gifts part of the local economy to the arena. The
// amounts are deducted locally and ride the next snapshot's deltas.
type ShareCommand struct {
	Cash  int
	Score int
}

// CallsignCommand renames the avatar.
type CallsignCommand struct {
	Name string
}

// TeamCommand switches team or toggles the team variant.
type TeamCommand struct {
	Team     uint8
	TeamMode bool
}

// PerkCommand toggles a named perk flag.
type PerkCommand struct {
	Perk string
	On   bool
}

// ToggleCommand carries a boolean for checksum and link toggles.
type ToggleCommand struct {
	On bool
}
