package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llll-robotics/llll/internal/interfaces"
	"github.com/llll-robotics/llll/internal/types"
)

// GET /api/v1/hub?name=
func (s *Server) getHub(c *gin.Context) {
	hub, err := s.svc.GetHubInfo(c.Query("name"))
	if err != nil {
		abortWithError(c, "Hub not available", err)
		return
	}
	c.JSON(http.StatusOK, hub)
}

// POST /api/v1/hub/discover
func (s *Server) discoverHub(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.KindInvalidRequest), "Invalid request body", err.Error()))
			return
		}
	}

	hub, err := s.svc.Discover(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, "Discovery failed", err)
		return
	}
	c.JSON(http.StatusOK, hub)
}

// POST /api/v1/runs
//
// The request blocks until the session is terminal. Failures of the run
// itself are part of the result, not HTTP errors.
func (s *Server) runProgram(c *gin.Context) {
	var req struct {
		Program        string  `json:"program" binding:"required"`
		Hub            string  `json:"hub"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.KindInvalidRequest), "Invalid request body", err.Error()))
		return
	}

	timeout, err := types.TimeoutFromSeconds(req.TimeoutSeconds)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.KindInvalidRequest), "Invalid timeout", err.Error()))
		return
	}

	result := s.svc.Run(c.Request.Context(), interfaces.RunRequest{
		Program: req.Program,
		Hub:     req.Hub,
		Timeout: timeout,
	})
	c.JSON(http.StatusOK, result)
}

// POST /api/v1/runs/cancel
func (s *Server) cancelRun(c *gin.Context) {
	var req struct {
		Hub string `json:"hub"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.KindInvalidRequest), "Invalid request body", err.Error()))
			return
		}
	}

	sessionID, err := s.svc.Cancel(req.Hub)
	if err != nil {
		abortWithError(c, "Nothing to cancel", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "cancellation requested",
		"session_id": sessionID,
	})
}

// GET /api/v1/runs?hub=&limit=
func (s *Server) listRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.KindInvalidRequest), "limit must be a positive integer", c.Query("limit")))
		return
	}

	runs, err := s.svc.RunHistory(c.Request.Context(), c.Query("hub"), limit)
	if err != nil {
		abortWithError(c, "Failed to load run history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":   runs,
		"count":  len(runs),
		"active": s.svc.ActiveSessions(),
	})
}

// GET /api/v1/programs?dir=
func (s *Server) listPrograms(c *gin.Context) {
	programs, err := s.svc.ListPrograms(c.Query("dir"))
	if err != nil {
		abortWithError(c, "Failed to list programs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"programs": programs,
		"count":    len(programs),
	})
}

// GET /api/v1/logs
func (s *Server) listLogs(c *gin.Context) {
	logs, err := s.svc.ListLogs()
	if err != nil {
		abortWithError(c, "Failed to list logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// GET /api/v1/logs/:name ("latest" reads the newest log)
func (s *Server) readLog(c *gin.Context) {
	name := c.Param("name")
	if name == "latest" {
		name = ""
	}
	text, err := s.svc.ReadLog(name)
	if err != nil {
		abortWithError(c, "Failed to read log", err)
		return
	}
	c.String(http.StatusOK, text)
}

// GET /api/v1/firmware?hub=
func (s *Server) checkFirmware(c *gin.Context) {
	report, err := s.svc.CheckFirmware(c.Request.Context(), c.Query("hub"))
	if err != nil {
		abortWithError(c, "Firmware check failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
