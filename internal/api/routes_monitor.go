package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lanlink-project/lanlink/internal/util"
)

// handleGetSessionView returns the full frame-published session view.
func (s *Server) handleGetSessionView(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.View())
}

// handleGetPeers returns the occupied peer slots.
func (s *Server) handleGetPeers(c *gin.Context) {
	view := s.session.View()
	c.JSON(http.StatusOK, gin.H{
		"peers": view.Peers,
		"total": len(view.Peers),
	})
}

// handleGetLinkCounters returns the raw link counters since start.
func (s *Server) handleGetLinkCounters(c *gin.Context) {
	view := s.session.View()
	c.JSON(http.StatusOK, gin.H{
		"status":   view.Status,
		"counters": view.Counters,
	})
}

// handleGetStats returns the most recent stats sample.
func (s *Server) handleGetStats(c *gin.Context) {
	if s.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats tracker not running"})
		return
	}
	c.JSON(http.StatusOK, s.tracker.Current())
}

// handleGetStatsHistory returns the sampled stats history, oldest first.
func (s *Server) handleGetStatsHistory(c *gin.Context) {
	if s.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats tracker not running"})
		return
	}
	history := s.tracker.History()
	c.JSON(http.StatusOK, gin.H{
		"samples": history,
		"count":   len(history),
	})
}

// handleGetTally returns the running session totals since node start.
func (s *Server) handleGetTally(c *gin.Context) {
	if s.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats tracker not running"})
		return
	}
	c.JSON(http.StatusOK, s.tracker.Tally())
}

// handleGetStallData returns per-peer snapshot stall aggregates.
func (s *Server) handleGetStallData(c *gin.Context) {
	if s.stalls == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stall monitor not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"peers": s.stalls.Data(),
	})
}

// handleGetCPUUsage returns current system CPU usage.
func (s *Server) handleGetCPUUsage(c *gin.Context) {
	usage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": usage,
	})
}

// handleGetMemoryUsage returns current system memory usage.
func (s *Server) handleGetMemoryUsage(c *gin.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_mb":     mem.Total,
		"used_mb":      mem.Used,
		"available_mb": mem.Available,
		"used_percent": mem.UsedPercent,
	})
}

// handleGetFeed returns persisted combat feed entries from the journal.
func (s *Server) handleGetFeed(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not available"})
		return
	}

	entries, err := s.journal.RecentFeed(parseCount(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleGetSightings returns peer appearance records from the journal.
func (s *Server) handleGetSightings(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not available"})
		return
	}

	sightings, err := s.journal.RecentSightings(parseCount(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sightings": sightings,
		"count":     len(sightings),
	})
}

// handleGetShares returns the received share ledger from the journal.
func (s *Server) handleGetShares(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not available"})
		return
	}

	shares, err := s.journal.RecentShares(parseCount(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shares": shares,
		"count":  len(shares),
	})
}

// handleGetShareTotals returns the share ledger aggregated per peer.
func (s *Server) handleGetShareTotals(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not available"})
		return
	}

	totals, err := s.journal.ShareTotals()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"totals": totals})
}

// handleGetAlerts returns unacknowledged alerts.
func (s *Server) handleGetAlerts(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not available"})
		return
	}

	alerts, err := s.journal.GetUnacknowledgedAlerts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	countStr := c.DefaultQuery("count", "100")
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	logDir := s.cfg.GetApplicationData().Logging.Directory
	entries, err := readRecentLogEntries(logDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// parseCount reads the count query parameter, clamped to [1, 500].
func parseCount(c *gin.Context, fallback int) int {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(fallback)))
	if err != nil || count < 1 {
		return fallback
	}
	if count > 500 {
		return 500
	}
	return count
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries reads and parses the most recent log entries from log files.
// Zerolog writes JSON lines; we parse them into structured objects for the dashboard.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	if len(dirEntries) == 0 {
		return []logEntry{}, nil
	}

	// Find the most recent log file
	var latestFile string
	for i := len(dirEntries) - 1; i >= 0; i-- {
		if !dirEntries[i].IsDir() && filepath.Ext(dirEntries[i].Name()) == ".log" {
			latestFile = filepath.Join(logDir, dirEntries[i].Name())
			break
		}
	}

	if latestFile == "" {
		return []logEntry{}, nil
	}

	// Read file content
	data, err := os.ReadFile(latestFile)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")

	// Take last N lines
	start := len(lines) - count
	if start < 0 {
		start = 0
	}

	// Known zerolog internal fields to exclude from "fields"
	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Parse the JSON line
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			// Not valid JSON, keep it as a plain message
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}

		// Parse timestamp (zerolog uses "time" field)
		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		// Collect remaining fields
		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
