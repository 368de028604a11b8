package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) getHealth(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "health monitor disabled"})
		return
	}
	c.JSON(http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) getPosition(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Position())
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.RiskState())
}

func (s *Server) getSignals(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persistence disabled"})
		return
	}
	signals, err := s.db.ListRecentSignals(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signal query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) getTrades(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persistence disabled"})
		return
	}
	trades, err := s.db.ListRecentTrades(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) pauseEngine(c *gin.Context) {
	s.engine.Pause()
	c.JSON(http.StatusAccepted, gin.H{"status": "pausing"})
}

func (s *Server) resumeEngine(c *gin.Context) {
	s.engine.Resume()
	c.JSON(http.StatusAccepted, gin.H{"status": "resuming"})
}

// closePosition force-flattens the position. Allowed even while paused or
// during a circuit-breaker suspension.
func (s *Server) closePosition(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.engine.ForceClose(ctx, "operator request"); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "position": s.engine.Position()})
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}
