package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/network"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║          lanlink - First Run Setup           ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Println("║  Welcome! Let's configure your node.         ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("A few things to know before joining a LAN session:")
	fmt.Println("  1. State is broadcast unencrypted to the local network")
	fmt.Println("  2. Anyone on the broadcast domain can join your arena")
	fmt.Println("  3. All nodes must agree on the checksum setting")
	fmt.Println()

	fmt.Println("── Avatar Identity ──")

	cfg.NodeData.Callsign = promptString(reader, "Callsign (max 11 characters)", cfg.NodeData.Callsign)
	cfg.NodeData.TeamMode = promptBool(reader, "Team match mode", cfg.NodeData.TeamMode)
	if cfg.NodeData.TeamMode {
		cfg.NodeData.Team = promptInt(reader, "Team (0 or 1)", cfg.NodeData.Team)
	}

	fmt.Println()
	fmt.Println("── LAN Link ──")

	cfg.NodeData.Port = promptInt(reader, "Link UDP port", cfg.NodeData.Port)
	bcastPrompt := "Broadcast address"
	if sub := network.SubnetBroadcastAddr(); sub.IsValid() {
		// Some switches filter the limited broadcast; offer the subnet's
		// directed broadcast as an alternative.
		bcastPrompt = fmt.Sprintf("Broadcast address (this subnet: %s)", sub)
	}
	cfg.NodeData.BroadcastAddr = promptString(reader, bcastPrompt, cfg.NodeData.BroadcastAddr)
	cfg.NodeData.UseChecksum = promptBool(reader, "Verify packet checksums", cfg.NodeData.UseChecksum)

	peers := promptString(reader, "Static peers beyond the broadcast domain (host:port, comma separated)",
		strings.Join(cfg.NodeData.StaticPeers, ","))
	cfg.NodeData.StaticPeers = splitPeerList(peers)

	fmt.Println()
	fmt.Println("── Local Loop ──")

	cfg.NodeData.SimHz = promptInt(reader, "Simulation tick rate (Hz)", cfg.NodeData.SimHz)
	cfg.NodeData.APIPort = promptInt(reader, "REST API port", cfg.NodeData.APIPort)
	if !IsPortAvailable(cfg.NodeData.APIPort) {
		fmt.Printf("    Note: port %d is currently in use on this host\n", cfg.NodeData.APIPort)
	}
	cfg.NodeData.Pilot.Mode = promptString(reader, "Pilot mode (idle/wander/aggressive)", cfg.NodeData.Pilot.Mode)

	fmt.Println()
	fmt.Println("── Notifications ──")

	cfg.ApplicationData.Webhook.URL = promptString(reader,
		"Webhook URL for alerts (leave blank to disable)", cfg.ApplicationData.Webhook.URL)
	cfg.ApplicationData.MQTT.Enabled = promptBool(reader, "Enable MQTT telemetry", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = promptString(reader, "MQTT broker host", cfg.ApplicationData.MQTT.BrokerURL)
		cfg.ApplicationData.MQTT.Port = promptInt(reader, "MQTT broker port", cfg.ApplicationData.MQTT.Port)
	}

	// Validate before saving
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	// Save configuration
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved successfully!")
	fmt.Println("  lanlink will now start with your configuration.")
	fmt.Println()

	return nil
}

func splitPeerList(s string) []string {
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
