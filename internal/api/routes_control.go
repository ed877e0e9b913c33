package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/lan"
)

// enqueue pushes a command onto the session queue, answering 503 when
// the queue is full so callers can retry.
func (s *Server) enqueue(c *gin.Context, cmd lan.Command) bool {
	if !s.session.Enqueue(cmd) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command queue full"})
		return false
	}
	return true
}

// handleShare gifts part of the local economy to the arena.
func (s *Server) handleShare(c *gin.Context) {
	var body struct {
		Cash  int `json:"cash"`
		Score int `json:"score"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.Cash < 0 || body.Score < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amounts must not be negative"})
		return
	}
	if body.Cash == 0 && body.Score == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cash or score must be positive"})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type:  lan.CommandShare,
		Share: &lan.ShareCommand{Cash: body.Cash, Score: body.Score},
	})
	if !ok {
		return
	}

	log.Info().Int("cash", body.Cash).Int("score", body.Score).Msg("API: share queued")

	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"cash":   body.Cash,
		"score":  body.Score,
	})
}

// handleSetCallsign renames the local avatar.
func (s *Server) handleSetCallsign(c *gin.Context) {
	var body struct {
		Callsign string `json:"callsign" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callsign is required"})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type:     lan.CommandSetCallsign,
		Callsign: &lan.CallsignCommand{Name: body.Callsign},
	})
	if !ok {
		return
	}

	log.Info().Str("callsign", body.Callsign).Msg("API: callsign change queued")

	c.JSON(http.StatusOK, gin.H{
		"status":   "queued",
		"callsign": body.Callsign,
	})
}

// handleSetTeam switches team or toggles the team variant.
func (s *Server) handleSetTeam(c *gin.Context) {
	var body struct {
		Team     uint8 `json:"team"`
		TeamMode bool  `json:"team_mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.Team > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "team must be 0 or 1"})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type: lan.CommandSetTeam,
		Team: &lan.TeamCommand{Team: body.Team, TeamMode: body.TeamMode},
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "queued",
		"team":      body.Team,
		"team_mode": body.TeamMode,
	})
}

// handleSetPerk toggles a named perk flag.
func (s *Server) handleSetPerk(c *gin.Context) {
	var body struct {
		Perk string `json:"perk" binding:"required"`
		On   bool   `json:"on"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "perk is required"})
		return
	}

	switch body.Perk {
	case lan.PerkQuickfire, lan.PerkSpeed, lan.PerkRevive:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown perk", "perk": body.Perk})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type: lan.CommandSetPerk,
		Perk: &lan.PerkCommand{Perk: body.Perk, On: body.On},
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"perk":   body.Perk,
		"on":     body.On,
	})
}

// handleSelectWeapon switches the current weapon.
func (s *Server) handleSelectWeapon(c *gin.Context) {
	var body struct {
		Index uint8 `json:"index"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.Index > 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "weapon index must be 0-3"})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type:   lan.CommandSelectWeapon,
		Weapon: &lan.WeaponCommand{Index: body.Index},
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"weapon": body.Index,
	})
}

// handleFire discharges the current weapon along a direction. Meant for
// link diagnostics: the ray rides the next broadcast like any other.
func (s *Server) handleFire(c *gin.Context) {
	var body struct {
		X float32 `json:"x"`
		Y float32 `json:"y"`
		Z float32 `json:"z"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dir := geom.Vec3{X: body.X, Y: body.Y, Z: body.Z}
	if dir == (geom.Vec3{}) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be nonzero"})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type: lan.CommandFire,
		Fire: &lan.FireCommand{Dir: dir},
	})
	if !ok {
		return
	}

	log.Info().Msg("API: fire queued")

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// handleRespawn skips the rest of the local respawn countdown.
func (s *Server) handleRespawn(c *gin.Context) {
	if !s.session.View().Self.Downed {
		c.JSON(http.StatusConflict, gin.H{"error": "avatar is not downed"})
		return
	}

	if !s.enqueue(c, lan.Command{Type: lan.CommandRespawn}) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// handleSetChecksum toggles checksum stamping and verification.
func (s *Server) handleSetChecksum(c *gin.Context) {
	var body struct {
		On bool `json:"on"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type:   lan.CommandSetChecksum,
		Toggle: &lan.ToggleCommand{On: body.On},
	})
	if !ok {
		return
	}

	log.Info().Bool("on", body.On).Msg("API: checksum toggle queued")

	c.JSON(http.StatusOK, gin.H{
		"status":   "queued",
		"checksum": body.On,
	})
}

// handleSetLinkEnabled pauses or resumes LAN sync.
func (s *Server) handleSetLinkEnabled(c *gin.Context) {
	var body struct {
		On bool `json:"on"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok := s.enqueue(c, lan.Command{
		Type:   lan.CommandSetEnabled,
		Toggle: &lan.ToggleCommand{On: body.On},
	})
	if !ok {
		return
	}

	log.Info().Bool("on", body.On).Msg("API: link toggle queued")

	c.JSON(http.StatusOK, gin.H{
		"status":  "queued",
		"enabled": body.On,
	})
}

// handleAcknowledgeAlert marks an alert as acknowledged.
func (s *Server) handleAcknowledgeAlert(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not available"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	if err := s.journal.AcknowledgeAlert(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "acknowledged",
		"id":     id,
	})
}
