package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/lan"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node_data":        s.cfg.GetNodeData(),
		"application_data": s.cfg.GetApplicationData(),
	})
}

// handleSetNodeData updates node configuration. Identity and link
// changes also ride the session command queue so they take effect
// without a restart.
func (s *Server) handleSetNodeData(c *gin.Context) {
	var nodeData config.NodeData
	if err := c.ShouldBindJSON(&nodeData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prev := s.cfg.GetNodeData()
	s.cfg.SetNodeData(nodeData)

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	// Propagate live-applicable changes into the running session.
	if nodeData.Callsign != prev.Callsign {
		s.session.Enqueue(lan.Command{
			Type:     lan.CommandSetCallsign,
			Callsign: &lan.CallsignCommand{Name: nodeData.Callsign},
		})
	}
	if nodeData.Team != prev.Team || nodeData.TeamMode != prev.TeamMode {
		s.session.Enqueue(lan.Command{
			Type: lan.CommandSetTeam,
			Team: &lan.TeamCommand{Team: uint8(nodeData.Team), TeamMode: nodeData.TeamMode},
		})
	}
	if nodeData.UseChecksum != prev.UseChecksum {
		s.session.Enqueue(lan.Command{
			Type:   lan.CommandSetChecksum,
			Toggle: &lan.ToggleCommand{On: nodeData.UseChecksum},
		})
	}
	if nodeData.Enabled != prev.Enabled {
		s.session.Enqueue(lan.Command{
			Type:   lan.CommandSetEnabled,
			Toggle: &lan.ToggleCommand{On: nodeData.Enabled},
		})
	}

	// Emit config changed event
	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "node_data",
		},
	})

	log.Info().Msg("API: node data updated")

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"data":   s.cfg.GetNodeData(),
	})
}

// handleSetAppData updates application configuration.
func (s *Server) handleSetAppData(c *gin.Context) {
	var appData config.ApplicationData
	if err := c.ShouldBindJSON(&appData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetApplicationData(appData)

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "application_data",
		},
	})

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
	})
}
