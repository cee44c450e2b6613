package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcond-project/rcond/internal/network"
	"github.com/rcond-project/rcond/internal/util"
)

// handleGetStatus returns daemon and host status.
func (s *Server) handleGetStatus(c *gin.Context) {
	status := gin.H{
		"uptime_sec":    int64(time.Since(s.manager.StartedAt()).Seconds()),
		"sessions":      s.manager.SessionCount(),
		"pending_total": s.manager.PendingCount(),
	}

	if usage, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = usage
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}

	c.JSON(http.StatusOK, status)
}

// handleGetSessions lists all active sessions.
func (s *Server) handleGetSessions(c *gin.Context) {
	sessions := s.manager.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleGetSession returns one session with its pending requests.
func (s *Server) handleGetSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	info, err := s.manager.Session(id)
	if err != nil {
		if errors.Is(err, network.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// replyRequest is the body of POST /api/sessions/:id/reply.
type replyRequest struct {
	RequestID int32  `json:"request_id"`
	Body      string `json:"body"`
}

// handlePostReply sends a reply frame on a session.
func (s *Server) handlePostReply(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.manager.Reply(id, req.RequestID, req.Body); err != nil {
		if errors.Is(err, network.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"request_id": req.RequestID,
	})
}

// handlePostClose tears down a session.
func (s *Server) handlePostClose(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	s.manager.CloseSession(id)
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

// handleGetCommands returns recent audited commands.
func (s *Server) handleGetCommands(c *gin.Context) {
	audit := s.manager.Audit()
	if audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	records, err := audit.RecentCommands(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commands": records,
		"count":    len(records),
	})
}

// sessionIDParam parses the :id path parameter, answering 400 on garbage.
func sessionIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}
