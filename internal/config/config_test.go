package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.NodeData.Callsign = "Vex"
	return cfg
}

func TestDefaultConfigNeedsSetup(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.IsFirstRun())

	result := Validate(cfg)
	require.False(t, result.IsValid())
	require.Equal(t, "node_data.node_callsign", result.Errors[0].Field)
}

func TestValidConfigPasses(t *testing.T) {
	result := Validate(validConfig())
	require.True(t, result.IsValid(), "errors: %v", result.Errors)
}

func TestCallsignTooLongRejected(t *testing.T) {
	cfg := validConfig()
	cfg.NodeData.Callsign = "TwelveCharss"
	require.False(t, Validate(cfg).IsValid())
}

func TestTeamOutOfRangeRejected(t *testing.T) {
	cfg := validConfig()
	cfg.NodeData.Team = 2
	require.False(t, Validate(cfg).IsValid())
}

func TestPortConflictRejected(t *testing.T) {
	cfg := validConfig()
	cfg.NodeData.APIPort = cfg.NodeData.Port
	require.False(t, Validate(cfg).IsValid())
}

func TestStaticPeerAddressesValidated(t *testing.T) {
	cfg := validConfig()
	cfg.NodeData.StaticPeers = []string{"10.0.0.5:27015"}
	require.True(t, Validate(cfg).IsValid())

	cfg.NodeData.StaticPeers = []string{"not-an-address"}
	require.False(t, Validate(cfg).IsValid())
}

func TestCleanupTimeValidated(t *testing.T) {
	cfg := validConfig()
	cfg.ApplicationData.Maintenance.CleanupTime = "25:00"
	require.False(t, Validate(cfg).IsValid())

	cfg.ApplicationData.Maintenance.CleanupTime = "23:59"
	require.True(t, Validate(cfg).IsValid())
}

func TestParseClockTime(t *testing.T) {
	mins, err := parseClockTime("04:30")
	require.NoError(t, err)
	require.Equal(t, 270, mins)

	_, err = parseClockTime("garbage")
	require.Error(t, err)
}

func TestLoadCreatesAndRoundTrips(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.True(t, cfg.IsFirstRun())
	require.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())

	node := cfg.GetNodeData()
	node.Callsign = "Crash"
	node.UseChecksum = false
	cfg.SetNodeData(node)
	require.NoError(t, cfg.Save())

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "Crash", reloaded.GetNodeData().Callsign)
	require.False(t, reloaded.GetNodeData().UseChecksum)
	require.Equal(t, DefaultLinkPort, reloaded.GetNodeData().Port)
}

func TestUpdateNodeField(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.UpdateNodeField("lan_use_checksum", false))
	require.False(t, cfg.GetNodeData().UseChecksum)

	require.NoError(t, cfg.UpdateNodeField("node_callsign", "Nova"))
	require.Equal(t, "Nova", cfg.GetNodeData().Callsign)
}

func TestUpdateAppField(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.UpdateAppField("mqtt", map[string]interface{}{
		"enabled":    true,
		"broker_url": "broker.lan",
	}))

	app := cfg.GetApplicationData()
	require.True(t, app.MQTT.Enabled)
	require.Equal(t, "broker.lan", app.MQTT.BrokerURL)
	require.Equal(t, 100, app.Security.RateLimitRPS)
}

func TestSplitPeerList(t *testing.T) {
	require.Equal(t, []string{"a:1", "b:2"}, splitPeerList(" a:1, b:2 ,"))
	require.Nil(t, splitPeerList(""))
}
