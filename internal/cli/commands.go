// Package cli implements the interactive command-line interface for the
// lanlink node: live session status, the peer table, and operator
// commands that feed the session's command queue.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/db"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/stats"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	session  *lan.Session
	tracker  *stats.Tracker
	journal  *db.Journal
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, session *lan.Session, tracker *stats.Tracker, journal *db.Journal) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		session:  session,
		tracker:  tracker,
		journal:  journal,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nlanlink CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("lanlink> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "peers", "p":
		c.printPeers()
	case "feed":
		c.printFeed()
	case "stats":
		c.printStats()
	case "counters":
		c.printCounters()
	case "tally":
		c.printTally()
	case "alerts":
		return c.printAlerts()
	case "ack":
		return c.cmdAck(args)
	case "share":
		return c.cmdShare(args)
	case "callsign", "name":
		return c.cmdCallsign(args)
	case "team":
		return c.cmdTeam(args)
	case "perk":
		return c.cmdPerk(args)
	case "weapon", "w":
		return c.cmdWeapon(args)
	case "fire":
		return c.cmdFire(args)
	case "respawn":
		return c.cmdRespawn()
	case "checksum":
		return c.cmdChecksum(args)
	case "link":
		return c.cmdLink(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down lanlink...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     lanlink CLI Commands                     ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show local avatar and link status       ║")
	fmt.Println("║  peers              Show the peer table                     ║")
	fmt.Println("║  feed               Show the recent combat feed             ║")
	fmt.Println("║  stats              Show host and link stats                ║")
	fmt.Println("║  counters           Show raw link counters                  ║")
	fmt.Println("║  tally              Show session totals since start         ║")
	fmt.Println("║  alerts             Show unacknowledged alerts              ║")
	fmt.Println("║  ack <id>           Acknowledge an alert                    ║")
	fmt.Println("║  share <cash> [sc]  Gift cash (and score) to the arena      ║")
	fmt.Println("║  callsign <name>    Rename the avatar                       ║")
	fmt.Println("║  team <0|1> [on]    Set team; 'on'/'off' toggles team mode  ║")
	fmt.Println("║  perk <name> <on>   Toggle quickfire, speed, or revive      ║")
	fmt.Println("║  weapon <0-3>       Switch weapon                           ║")
	fmt.Println("║  fire <callsign>    Fire a diagnostic shot at a peer        ║")
	fmt.Println("║  respawn            Skip the respawn countdown              ║")
	fmt.Println("║  checksum <on|off>  Toggle datagram checksums               ║")
	fmt.Println("║  link <on|off>      Pause or resume LAN sync                ║")
	fmt.Println("║  quit               Shutdown lanlink                        ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays the local avatar and link state.
func (c *CLI) printStatus() {
	view := c.session.View()
	self := view.Self

	fmt.Printf("\n  Callsign:     %s\n", self.Callsign)
	fmt.Printf("  Link:         %s (port %d)\n", view.Status, c.cfg.GetNodeData().Port)
	if self.TeamMode {
		fmt.Printf("  Team:         %d  (scores %d : %d)\n", self.Team, view.TeamScores[0], view.TeamScores[1])
	} else {
		fmt.Printf("  Team:         free-for-all\n")
	}
	if self.Downed {
		fmt.Printf("  Health:       DOWN (respawn in %.1fs)\n", self.RespawnIn)
	} else {
		fmt.Printf("  Health:       %.0f\n", self.Health)
	}
	fmt.Printf("  Weapon:       %d  (ammo %d)\n", self.Weapon, self.Ammo)
	fmt.Printf("  Cash:         %d\n", self.Cash)
	fmt.Printf("  Score:        %d\n", self.Score)
	fmt.Printf("  Session:      %.0fs, %d peer(s)\n", view.Clock, len(view.Peers))
	if self.Pending.Cash > 0 || self.Pending.Score > 0 {
		fmt.Printf("  Outgoing:     %d cash, %d score on next snapshot\n",
			self.Pending.Cash, self.Pending.Score)
	}
	if view.SharePip != nil {
		fmt.Printf("  Incoming:     +%d cash, +%d score from %s\n",
			view.SharePip.Cash, view.SharePip.Score, view.SharePip.From)
	}
	fmt.Println()
}

// printPeers displays the peer table.
func (c *CLI) printPeers() {
	view := c.session.View()

	if len(view.Peers) == 0 {
		fmt.Println("No peers in the arena.")
		return
	}

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Callsign", "Addr", "Team", "HP", "Ammo", "Cash", "Score", "Seen"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range view.Peers {
		hp := fmt.Sprintf("%.0f", p.Health)
		if p.Downed {
			hp = "DOWN"
		}
		tw.Append([]string{
			p.Callsign,
			p.Addr,
			fmt.Sprintf("%d", p.Team),
			hp,
			fmt.Sprintf("%d", p.Ammo),
			fmt.Sprintf("%d", p.Cash),
			fmt.Sprintf("%d", p.Score),
			fmt.Sprintf("%.1fs", p.SeenAge),
		})
	}

	tw.Render()
	fmt.Println()
}

// printFeed displays the recent combat feed.
func (c *CLI) printFeed() {
	view := c.session.View()
	if len(view.Feed) == 0 {
		fmt.Println("Combat feed is empty.")
		return
	}

	fmt.Println()
	for _, f := range view.Feed {
		verb := "fragged"
		if f.Kind == events.FeedKindAssist {
			verb = "assisted on"
		}
		fmt.Printf("  [%7.1fs] %s %s %s\n", f.Clock, f.Actor, verb, f.Target)
	}
	fmt.Println()
}

// printStats displays the latest stats sample.
func (c *CLI) printStats() {
	if c.tracker == nil {
		fmt.Println("Stats tracker not running.")
		return
	}

	sample := c.tracker.Current()
	fmt.Printf("\n  Host CPU:     %.1f%%\n", sample.CPUPercent)
	fmt.Printf("  Host Memory:  %.1f%%\n", sample.MemUsedPercent)
	fmt.Printf("  Process CPU:  %.1f%%\n", sample.ProcCPUPercent)
	fmt.Printf("  Process RSS:  %.1f MB\n", sample.ProcRSSMB)
	fmt.Printf("  Send Rate:    %.1f pkt/s\n", sample.SendRate)
	fmt.Printf("  Recv Rate:    %.1f pkt/s\n", sample.RecvRate)
	fmt.Printf("  Drops:        %d\n", sample.DropTotal)
	fmt.Println()
}

// printCounters displays the raw link counters.
func (c *CLI) printCounters() {
	counters := c.session.View().Counters

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Counter", "Value"})
	tw.SetBorder(true)

	rows := []struct {
		name  string
		value uint64
	}{
		{"packets sent", counters.PacketsSent},
		{"packets received", counters.PacketsReceived},
		{"bytes sent", counters.BytesSent},
		{"bytes received", counters.BytesReceived},
		{"dropped short", counters.DroppedShort},
		{"dropped checksum", counters.DroppedChecksum},
		{"dropped self", counters.DroppedSelf},
		{"dropped table full", counters.DroppedTableFull},
		{"duplicate damage", counters.DuplicateDamage},
		{"duplicate events", counters.DuplicateEvents},
		{"catch-ups sent", counters.CatchUpsSent},
		{"catch-up bonuses", counters.CatchUpBonuses},
		{"commands dropped", counters.CommandsDropped},
		{"send errors", counters.SendErrors},
	}
	for _, row := range rows {
		tw.Append([]string{row.name, fmt.Sprintf("%d", row.value)})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) printTally() {
	tally := c.tracker.Tally()

	fmt.Println()
	fmt.Printf("Uptime: %s   Peers seen: %d   Damage taken: %d in %d hits   Downs: %d\n",
		time.Duration(tally.UptimeSeconds*float64(time.Second)).Round(time.Second),
		len(tally.PeersSeen), tally.DamageTaken, tally.HitsTaken, tally.Downs)
	fmt.Printf("Shares in: %d (%d cash, %d score)   Shares out: %d (%d cash, %d score)   Catch-ups granted: %d\n",
		tally.SharesIn.Count, tally.SharesIn.Cash, tally.SharesIn.Score,
		tally.SharesOut.Count, tally.SharesOut.Cash, tally.SharesOut.Score,
		tally.CatchUps.Count)

	if len(tally.Actors) == 0 {
		fmt.Println("No combat recorded yet")
		fmt.Println()
		return
	}

	names := make([]string, 0, len(tally.Actors))
	for name := range tally.Actors {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Actor", "Frags", "Assists"})
	tw.SetBorder(true)
	for _, name := range names {
		actor := tally.Actors[name]
		tw.Append([]string{name, fmt.Sprintf("%d", actor.Frags), fmt.Sprintf("%d", actor.Assists)})
	}

	tw.Render()
	fmt.Println()
}

// printAlerts displays unacknowledged alerts.
func (c *CLI) printAlerts() error {
	if c.journal == nil {
		fmt.Println("Journal not available.")
		return nil
	}

	alerts, err := c.journal.GetUnacknowledgedAlerts()
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Println("No unacknowledged alerts.")
		return nil
	}

	fmt.Println()
	for _, a := range alerts {
		fmt.Printf("  [%d] %s %s/%s: %s\n",
			a.ID, a.CreatedAt.Format("15:04:05"), a.Type, a.Level, a.Message)
	}
	fmt.Println()
	return nil
}

func (c *CLI) cmdAck(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ack <id>")
	}
	if c.journal == nil {
		return fmt.Errorf("journal not available")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil || id < 1 {
		return fmt.Errorf("invalid alert id: %s", args[0])
	}

	if err := c.journal.AcknowledgeAlert(id); err != nil {
		return err
	}
	fmt.Printf("Alert %d acknowledged\n", id)
	return nil
}

func (c *CLI) cmdShare(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: share <cash> [score]")
	}

	cash, err := strconv.Atoi(args[0])
	if err != nil || cash < 0 {
		return fmt.Errorf("invalid cash amount: %s", args[0])
	}

	score := 0
	if len(args) > 1 {
		score, err = strconv.Atoi(args[1])
		if err != nil || score < 0 {
			return fmt.Errorf("invalid score amount: %s", args[1])
		}
	}
	if cash == 0 && score == 0 {
		return fmt.Errorf("nothing to share")
	}

	c.enqueue(lan.Command{
		Type:  lan.CommandShare,
		Share: &lan.ShareCommand{Cash: cash, Score: score},
	})
	fmt.Printf("Sharing %d cash, %d score on the next snapshot\n", cash, score)
	return nil
}

func (c *CLI) cmdCallsign(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: callsign <name>")
	}

	name := strings.Join(args, " ")
	c.enqueue(lan.Command{
		Type:     lan.CommandSetCallsign,
		Callsign: &lan.CallsignCommand{Name: name},
	})
	fmt.Printf("Callsign set to %s\n", name)
	return nil
}

func (c *CLI) cmdTeam(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: team <0|1> [on|off]")
	}

	team, err := strconv.Atoi(args[0])
	if err != nil || team < 0 || team > 1 {
		return fmt.Errorf("team must be 0 or 1")
	}

	teamMode := c.session.View().Self.TeamMode
	if len(args) > 1 {
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		teamMode = on
	}

	c.enqueue(lan.Command{
		Type: lan.CommandSetTeam,
		Team: &lan.TeamCommand{Team: uint8(team), TeamMode: teamMode},
	})
	fmt.Printf("Team set to %d (team mode %v)\n", team, teamMode)
	return nil
}

func (c *CLI) cmdPerk(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: perk <quickfire|speed|revive> <on|off>")
	}

	perk := strings.ToLower(args[0])
	switch perk {
	case lan.PerkQuickfire, lan.PerkSpeed, lan.PerkRevive:
	default:
		return fmt.Errorf("unknown perk: %s", args[0])
	}

	on, err := parseOnOff(args[1])
	if err != nil {
		return err
	}

	c.enqueue(lan.Command{
		Type: lan.CommandSetPerk,
		Perk: &lan.PerkCommand{Perk: perk, On: on},
	})
	fmt.Printf("Perk %s set %v\n", perk, on)
	return nil
}

func (c *CLI) cmdWeapon(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: weapon <0-3>")
	}

	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 || index > 3 {
		return fmt.Errorf("weapon index must be 0-3")
	}

	c.enqueue(lan.Command{
		Type:   lan.CommandSelectWeapon,
		Weapon: &lan.WeaponCommand{Index: uint8(index)},
	})
	fmt.Printf("Weapon %d selected\n", index)
	return nil
}

func (c *CLI) cmdFire(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fire <callsign>")
	}

	view := c.session.View()
	if view.Self.Downed {
		return fmt.Errorf("cannot fire while downed")
	}

	name := strings.Join(args, " ")
	for _, p := range view.Peers {
		if !strings.EqualFold(p.Callsign, name) {
			continue
		}
		eye := view.Self.Pos.Add(geom.Vec3{Y: lan.EyeHeight})
		c.enqueue(lan.Command{
			Type: lan.CommandFire,
			Fire: &lan.FireCommand{Dir: p.Pos.Sub(eye)},
		})
		fmt.Printf("Firing at %s\n", p.Callsign)
		return nil
	}
	return fmt.Errorf("no peer named %q", name)
}

func (c *CLI) cmdRespawn() error {
	if !c.session.View().Self.Downed {
		return fmt.Errorf("not downed")
	}

	c.enqueue(lan.Command{Type: lan.CommandRespawn})
	fmt.Println("Respawn requested")
	return nil
}

func (c *CLI) cmdChecksum(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: checksum <on|off>")
	}

	on, err := parseOnOff(args[0])
	if err != nil {
		return err
	}

	c.enqueue(lan.Command{
		Type:   lan.CommandSetChecksum,
		Toggle: &lan.ToggleCommand{On: on},
	})
	fmt.Printf("Checksum %v\n", on)
	return nil
}

func (c *CLI) cmdLink(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: link <on|off>")
	}

	on, err := parseOnOff(args[0])
	if err != nil {
		return err
	}

	c.enqueue(lan.Command{
		Type:   lan.CommandSetEnabled,
		Toggle: &lan.ToggleCommand{On: on},
	})
	fmt.Printf("Link sync %v\n", on)
	return nil
}

// enqueue pushes a command onto the session queue, reporting drops.
func (c *CLI) enqueue(cmd lan.Command) {
	if !c.session.Enqueue(cmd) {
		fmt.Println("Warning: command queue full, command dropped")
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %s", s)
}

// lineReader wraps a bufio.Scanner with a prompt.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{scanner: bufio.NewScanner(r)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}
