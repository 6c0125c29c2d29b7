package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/warden-mod/warden/engine"
	"github.com/warden-mod/warden/ledger"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"
)

// Server exposes the engine's admin operations over HTTP. Moderation
// commands themselves arrive in-process through the command layer, never
// through this API.
type Server struct {
	db     *gorm.DB
	engine *engine.Engine
	logger *slog.Logger
	echo   *echo.Echo
}

func NewServer(db *gorm.DB, eng *engine.Engine, logger *slog.Logger) *Server {
	return &Server{
		db:     db,
		engine: eng,
		logger: logger.With("system", "admin-api"),
	}
}

func (s *Server) RunAPI(listen string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())

	e.GET("/_health", s.handleHealthCheck)

	g := e.Group("/guilds/:guild")
	g.GET("/cases", s.handleListRecentCases)
	g.GET("/cases/:num", s.handleGetCase)
	g.PUT("/cases/:num/reason", s.handleUpdateReason)
	g.DELETE("/cases/:num", s.handleDeleteCase)
	g.GET("/logs/:target", s.handleGetLogs)
	g.GET("/leaderboard", s.handleLeaderboard)
	g.GET("/blocks", s.handleListBlocks)
	g.POST("/moderators/:mod/override", s.handleGrantOverride)
	g.POST("/moderators/:mod/unblock", s.handleUnblock)
	g.GET("/moderators/:mod/cooldown", s.handleGetCooldown)
	g.GET("/safety-admins", s.handleListSafetyAdmins)
	g.PUT("/safety-admins/:user", s.handleAddSafetyAdmin)
	g.DELETE("/safety-admins/:user", s.handleRemoveSafetyAdmin)
	g.POST("/emergency", s.handleEnableEmergency)
	g.DELETE("/emergency", s.handleDisableEmergency)

	s.echo = e
	s.logger.Info("starting admin API", "listen", listen)
	return e.Start(listen)
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.engine.Wait()
	if s.echo == nil {
		// a shutdown signal can land before the API goroutine starts
		return nil
	}
	return s.echo.Shutdown(ctx)
}

type healthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) handleHealthCheck(c echo.Context) error {
	if err := s.db.Exec("SELECT 1").Error; err != nil {
		s.logger.Error("healthcheck can't connect to database", "err", err)
		return c.JSON(500, healthStatus{Status: "error", Version: versioninfo.Short(), Message: "can't connect to database"})
	}
	return c.JSON(200, healthStatus{Status: "ok", Version: versioninfo.Short()})
}

func caseNumber(c echo.Context) (uint64, error) {
	n, err := strconv.ParseUint(c.Param("num"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid case number")
	}
	return n, nil
}

func (s *Server) handleGetCase(c echo.Context) error {
	num, err := caseNumber(c)
	if err != nil {
		return err
	}
	cs, err := s.engine.Ledger.GetCase(c.Request().Context(), c.Param("guild"), num)
	if errors.Is(err, ledger.ErrCaseNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	} else if err != nil {
		return err
	}
	return c.JSON(200, cs)
}

func (s *Server) handleListRecentCases(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	out, err := s.engine.Ledger.ListRecentCases(c.Request().Context(), c.Param("guild"), limit)
	if err != nil {
		return err
	}
	return c.JSON(200, out)
}

type updateReasonBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleUpdateReason(c echo.Context) error {
	num, err := caseNumber(c)
	if err != nil {
		return err
	}
	var body updateReasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	err = s.engine.Ledger.UpdateReason(c.Request().Context(), c.Param("guild"), num, body.Reason)
	if errors.Is(err, ledger.ErrCaseNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	} else if err != nil {
		return err
	}
	return c.NoContent(200)
}

func (s *Server) handleDeleteCase(c echo.Context) error {
	num, err := caseNumber(c)
	if err != nil {
		return err
	}
	err = s.engine.Ledger.DeleteCase(c.Request().Context(), c.Param("guild"), num)
	if errors.Is(err, ledger.ErrCaseNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	} else if err != nil {
		return err
	}
	return c.NoContent(200)
}

func (s *Server) handleGetLogs(c echo.Context) error {
	out, err := s.engine.Ledger.GetLogs(c.Request().Context(), c.Param("guild"), c.Param("target"))
	if err != nil {
		return err
	}
	return c.JSON(200, out)
}

func (s *Server) handleLeaderboard(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	out, err := s.engine.Ledger.GetLeaderboard(c.Request().Context(), c.Param("guild"), limit)
	if err != nil {
		return err
	}
	return c.JSON(200, out)
}

func (s *Server) handleListBlocks(c echo.Context) error {
	out, err := s.engine.RateLimiter.ListBlocks(c.Request().Context(), c.Param("guild"))
	if err != nil {
		return err
	}
	return c.JSON(200, out)
}

type grantOverrideBody struct {
	GrantedBy string `json:"grantedBy"`
}

func (s *Server) handleGrantOverride(c echo.Context) error {
	var body grantOverrideBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	err := s.engine.RateLimiter.GrantCooldownOverride(c.Request().Context(), c.Param("guild"), c.Param("mod"), body.GrantedBy)
	if err != nil {
		return err
	}
	return c.NoContent(200)
}

func (s *Server) handleUnblock(c echo.Context) error {
	if err := s.engine.RateLimiter.Unblock(c.Request().Context(), c.Param("guild"), c.Param("mod")); err != nil {
		return err
	}
	return c.NoContent(200)
}

type cooldownStatus struct {
	OnCooldown       bool    `json:"onCooldown"`
	RemainingSeconds float64 `json:"remainingSeconds,omitempty"`
}

func (s *Server) handleGetCooldown(c echo.Context) error {
	on, remaining, err := s.engine.Escalator.IsOnCooldown(c.Request().Context(), c.Param("guild"), c.Param("mod"))
	if err != nil {
		return err
	}
	return c.JSON(200, cooldownStatus{OnCooldown: on, RemainingSeconds: remaining.Seconds()})
}

func (s *Server) handleListSafetyAdmins(c echo.Context) error {
	out, err := s.engine.Bypass.ListSafetyAdmins(c.Request().Context(), c.Param("guild"))
	if err != nil {
		return err
	}
	return c.JSON(200, out)
}

type addSafetyAdminBody struct {
	AddedBy string `json:"addedBy"`
}

func (s *Server) handleAddSafetyAdmin(c echo.Context) error {
	var body addSafetyAdminBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	err := s.engine.Bypass.AddSafetyAdmin(c.Request().Context(), c.Param("guild"), c.Param("user"), body.AddedBy)
	if err != nil {
		return err
	}
	return c.NoContent(200)
}

func (s *Server) handleRemoveSafetyAdmin(c echo.Context) error {
	if err := s.engine.Bypass.RemoveSafetyAdmin(c.Request().Context(), c.Param("guild"), c.Param("user")); err != nil {
		return err
	}
	return c.NoContent(200)
}

type emergencyBody struct {
	ModeType  string `json:"modeType"`
	EnabledBy string `json:"enabledBy"`
	Reason    string `json:"reason"`
}

func (s *Server) handleEnableEmergency(c echo.Context) error {
	var body emergencyBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	err := s.engine.Bypass.EnableEmergencyMode(c.Request().Context(), c.Param("guild"), body.ModeType, body.EnabledBy, body.Reason)
	if err != nil {
		return err
	}
	return c.NoContent(200)
}

func (s *Server) handleDisableEmergency(c echo.Context) error {
	if err := s.engine.Bypass.DisableEmergencyMode(c.Request().Context(), c.Param("guild")); err != nil {
		return err
	}
	return c.NoContent(200)
}
