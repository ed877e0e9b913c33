package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanlink-project/lanlink/internal/util"
)

// Version is the lanlink release version.
const Version = "1.0.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lanlink",
		"version": Version,
	})
}

// handleGetNodeInfo returns basic node information.
func (s *Server) handleGetNodeInfo(c *gin.Context) {
	nodeData := s.cfg.GetNodeData()
	sysInfo := util.GetSystemInfo()
	view := s.session.View()

	c.JSON(http.StatusOK, gin.H{
		"callsign":        view.Self.Callsign,
		"team":            view.Self.Team,
		"team_mode":       view.Self.TeamMode,
		"link_port":       nodeData.Port,
		"link_status":     view.Status,
		"peers":           len(view.Peers),
		"platform":        sysInfo.Platform,
		"hostname":        sysInfo.Hostname,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}

// handleGetVersion returns the lanlink version.
func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": Version,
		"name":    "lanlink",
	})
}
