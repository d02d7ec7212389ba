package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"vaultsync/internal/logger"
	"vaultsync/internal/metrics"
	"vaultsync/internal/model"
	"vaultsync/internal/queue"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	echo    *echo.Echo
	manager *Manager
	port    int
	stopCh  chan struct{}
}

func NewServer(manager *Manager, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		manager: manager,
		port:    port,
		stopCh:  make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	s.echo.POST("/sync", s.handleSync)
	s.echo.POST("/pause", s.handlePause)
	s.echo.POST("/resume", s.handleResume)

	s.echo.GET("/history", s.handleHistory)
	s.echo.GET("/tree", s.handleTree)
	s.echo.GET("/info", s.handleInfo)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

func (s *Server) Start() {
	go func() {
		addr := "127.0.0.1:" + strconv.Itoa(s.port)
		logger.Log.Info("daemon server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.manager.Stop()
	return err
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

type StatusResponse struct {
	Session    Snapshot                       `json:"session"`
	Queue      map[queue.TaskType]queue.Stats `json:"queue"`
	PendingOps int                            `json:"pending_ops"`
}

func (s *Server) handleStatus(c echo.Context) error {
	a := s.manager.app
	return c.JSON(http.StatusOK, StatusResponse{
		Session:    s.manager.Snapshot(),
		Queue:      a.Queue.Stats(),
		PendingOps: a.Engine.PendingOps(),
	})
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleSync(c echo.Context) error {
	report, err := s.manager.Sync(c.Request().Context())
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrPaused):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handlePause(c echo.Context) error {
	s.manager.Pause()
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(c echo.Context) error {
	s.manager.Resume()
	return c.JSON(http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}

	histories, err := s.manager.app.History.GetRecent(n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}

func (s *Server) handleTree(c echo.Context) error {
	path := c.QueryParam("path")
	eng := s.manager.app.Engine

	if remote, _ := strconv.ParseBool(c.QueryParam("remote")); remote {
		contents := eng.RemoteContents(path)
		if contents == nil {
			contents = []*model.LocalFileNode{}
		}
		return c.JSON(http.StatusOK, contents)
	}

	node, ok := eng.Node(path)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "path not found"})
	}
	return c.JSON(http.StatusOK, node)
}

type InfoResponse struct {
	User    *model.UserInfo    `json:"user"`
	Storage *model.StorageInfo `json:"storage"`
}

func (s *Server) handleInfo(c echo.Context) error {
	ctx := c.Request().Context()
	backend := s.manager.app.Backend

	user, err := backend.UserInfo(ctx)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	storage, err := backend.StorageInfo(ctx)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, InfoResponse{User: user, Storage: storage})
}
