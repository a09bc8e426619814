package http

import (
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/app"
	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/install"
	"github.com/invoke-ai/launcher/internal/terminal"
)

// Handlers bundles the REST endpoints and their collaborators.
type Handlers struct {
	board      *bridge.Board
	manager    *terminal.Manager
	workflow   *install.Workflow
	supervisor *app.Supervisor
	logger     *logging.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	board *bridge.Board,
	manager *terminal.Manager,
	workflow *install.Workflow,
	supervisor *app.Supervisor,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		board:      board,
		manager:    manager,
		workflow:   workflow,
		supervisor: supervisor,
		logger:     logger,
	}
}

// Register attaches all REST routes to the router.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/status", h.AllStatuses)
	r.GET("/status/:role", h.RoleStatus)

	r.POST("/install", h.StartInstall)
	r.POST("/install/cancel", h.CancelInstall)
	r.GET("/install/probe", h.ProbeInstall)

	r.POST("/app/start", h.StartApp)
	r.POST("/app/exit", h.ExitApp)
	r.POST("/app/reopen", h.ReopenApp)
	r.POST("/app/window-crashed", h.WindowCrashed)

	r.POST("/sessions", h.CreateSession)
	r.DELETE("/sessions/:id", h.CloseSession)
	r.POST("/sessions/:id/write", h.WriteSession)
	r.POST("/sessions/:id/resize", h.ResizeSession)
	r.GET("/sessions/:id/replay", h.ReplaySession)
}

// Health reports daemon liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "launcher",
		"timestamp": time.Now().Unix(),
	})
}

// AllStatuses returns the latest status snapshot of every role.
func (h *Handlers) AllStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": h.board.All()})
}

// RoleStatus returns the latest status of one role.
func (h *Handlers) RoleStatus(c *gin.Context) {
	role := bridge.Role(c.Param("role"))
	switch role {
	case bridge.RoleConsole, bridge.RoleInstall, bridge.RoleApp:
		c.JSON(http.StatusOK, h.board.Get(role))
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown role"})
	}
}

// StartInstall launches the install workflow.
func (h *Handlers) StartInstall(c *gin.Context) {
	var req install.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.Start(req); err != nil {
		if errors.Is(err, install.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

// CancelInstall requests cancellation of a running install.
func (h *Handlers) CancelInstall(c *gin.Context) {
	h.workflow.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"canceling": true})
}

// ProbeInstall reports what is installed at a directory.
func (h *Handlers) ProbeInstall(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}
	c.JSON(http.StatusOK, install.Probe(path))
}

type appStartRequest struct {
	Dir string `json:"dir" binding:"required"`
	app.StartOptions
}

// StartApp launches the application server from an install directory.
func (h *Handlers) StartApp(c *gin.Context) {
	var req appStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.supervisor.Start(req.Dir, req.StartOptions); err != nil {
		if errors.Is(err, app.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

// ExitApp requests a graceful application shutdown.
func (h *Handlers) ExitApp(c *gin.Context) {
	if err := h.supervisor.Exit(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"exiting": true})
}

// ReopenApp returns the retained endpoint for a fresh display surface.
func (h *Handlers) ReopenApp(c *gin.Context) {
	endpoint, err := h.supervisor.Reopen()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

type windowCrashedRequest struct {
	Reason string `json:"reason"`
}

// WindowCrashed records a display surface crash.
func (h *Handlers) WindowCrashed(c *gin.Context) {
	var req windowCrashedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.supervisor.SurfaceCrashed(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

type createSessionRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`
	Cols    int      `json:"cols"`
	Rows    int      `json:"rows"`
}

// CreateSession opens an interactive console session. The prior console
// session, if any, is replaced.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Command == "" {
		req.Command = defaultShell()
	}

	// Replace any live console deterministically: the displaced session
	// records its exit before the new one touches the status board.
	if prior, ok := h.manager.Get(bridge.RoleConsole); ok {
		h.manager.Dispose(prior.ID)
		select {
		case <-prior.Exited():
		case <-time.After(10 * time.Second):
			c.JSON(http.StatusConflict, gin.H{"error": "prior console session did not exit"})
			return
		}
	}

	h.board.Set(bridge.RoleConsole, bridge.StateStarting, req.Command)

	session, err := h.manager.Create(terminal.CreateOptions{
		Role:    bridge.RoleConsole,
		Command: req.Command,
		Args:    req.Args,
		Dir:     req.Dir,
		Cols:    req.Cols,
		Rows:    req.Rows,
		OnData: func(chunk string) {
			h.board.Output(bridge.RoleConsole, chunk)
		},
		OnExit: func(status terminal.ExitStatus) {
			// A session displaced by a newer console keeps its hands off
			// the status board.
			if _, live := h.manager.Get(bridge.RoleConsole); !live {
				h.board.Set(bridge.RoleConsole, bridge.StateExited, "")
			}
		},
	})
	if err != nil {
		h.board.Set(bridge.RoleConsole, bridge.StateError, err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.board.Set(bridge.RoleConsole, bridge.StateRunning, req.Command)

	h.logger.Info("console session opened",
		zap.String("session_id", session.ID),
		zap.String("command", req.Command),
	)
	c.JSON(http.StatusCreated, gin.H{"id": session.ID, "command": req.Command})
}

// CloseSession disposes a session by id. Idempotent.
func (h *Handlers) CloseSession(c *gin.Context) {
	h.manager.Dispose(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

type writeSessionRequest struct {
	Data string `json:"data" binding:"required"`
}

// WriteSession sends input to a session.
func (h *Handlers) WriteSession(c *gin.Context) {
	var req writeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.manager.Write(c.Param("id"), []byte(req.Data))
	c.JSON(http.StatusOK, gin.H{"written": true})
}

type resizeSessionRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// ResizeSession changes a session's dimensions.
func (h *Handlers) ResizeSession(c *gin.Context) {
	var req resizeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.manager.Resize(c.Param("id"), req.Cols, req.Rows)
	c.JSON(http.StatusOK, gin.H{"resized": true})
}

// ReplaySession returns a session's buffered recent output.
func (h *Handlers) ReplaySession(c *gin.Context) {
	data, ok := h.manager.Replay(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}
