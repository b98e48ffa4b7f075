package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bozbot/internal/stations"
)

const tradeListLimit = 100

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"ws_connections": s.hub.ClientCount(),
	})
}

// operator loads the single operator row or writes the error response.
func (s *Server) operator(c *gin.Context) (int64, bool) {
	op, err := s.store.GetOperator(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return 0, false
	}
	if op == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no operator configured"})
		return 0, false
	}
	return op.ID, true
}

func (s *Server) handleListPending(c *gin.Context) {
	operatorID, ok := s.operator(c)
	if !ok {
		return
	}
	pending, err := s.store.ListPendingTrades(c.Request.Context(), operatorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (s *Server) handleApprove(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pending trade id"})
		return
	}

	trade, err := s.executor.Approve(c.Request.Context(), id, time.Now())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

func (s *Server) handleReject(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pending trade id"})
		return
	}

	if err := s.executor.Reject(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *Server) handleListTrades(c *gin.Context) {
	operatorID, ok := s.operator(c)
	if !ok {
		return
	}
	trades, err := s.store.RecentTrades(c.Request.Context(), operatorID, tradeListLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleGetPrediction(c *gin.Context) {
	station, err := stations.Get(c.Param("city"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	date := station.TradingDay(time.Now())
	if raw := c.Query("date"); raw != "" {
		parsed, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	pred, err := s.store.LatestPrediction(c.Request.Context(), station.City, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if pred == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no prediction for " + station.City})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prediction": pred})
}
