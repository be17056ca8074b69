package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/heraldhq/herald/autopost/publisher"
	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// collectors register globally, so only one middleware per process
var promMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("heraldd")
})

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"msg,omitempty"`
}

type jobBody struct {
	Text            string                    `json:"text"`
	IntervalSeconds int64                     `json:"interval_seconds"`
	Destinations    []transport.DestinationID `json:"destinations"`
	Active          bool                      `json:"active"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

func jobToBody(job *store.PublishingJob) jobBody {
	return jobBody{
		Text:            job.Payload.Text,
		IntervalSeconds: int64(job.Interval / time.Second),
		Destinations:    job.Destinations,
		Active:          job.Active,
		UpdatedAt:       job.UpdatedAt,
	}
}

type ruleBody struct {
	Keyword    string   `json:"keyword"`
	Response   string   `json:"response"`
	Alternates []string `json:"alternates,omitempty"`
}

func ruleToBody(r *store.ReplyRule) ruleBody {
	body := ruleBody{Keyword: r.Keyword, Response: r.Response.Text}
	for _, p := range r.Alternates {
		body.Alternates = append(body.Alternates, p.Text)
	}
	return body
}

type loopStatus struct {
	Account transport.AccountID `json:"account"`
	State   publisher.LoopState `json:"state"`
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("heraldd"))
	e.Use(promMiddleware())
	if s.adminToken != "" {
		e.Use(s.adminAuthMiddleware())
	} else {
		s.logger.Warn("no admin token configured, admin API is unauthenticated")
	}

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if code >= 500 {
			s.logger.Warn("admin request error", "statusCode", code, "path", c.Path(), "err", err)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}

	e.GET("/_health", s.HandleHealthCheck)

	e.GET("/admin/loops", s.HandleListLoops)

	acct := e.Group("/admin/accounts/:account")
	acct.GET("/job", s.HandleGetJob)
	acct.PUT("/job", s.HandlePutJob)
	acct.DELETE("/job", s.HandleDeactivateJob)
	acct.POST("/reconfigure", s.HandleReconfigure)
	acct.GET("/freezes", s.HandleListFreezes)
	acct.DELETE("/freezes", s.HandleClearFreezes)
	acct.GET("/watch", s.HandleListWatched)
	acct.PUT("/watch/:ref", s.HandleAddWatched)
	acct.DELETE("/watch/:ref", s.HandleRemoveWatched)
	acct.GET("/rules", s.HandleListRules)
	acct.PUT("/rules/:keyword", s.HandlePutRule)
	acct.DELETE("/rules/:keyword", s.HandleDeleteRule)
	acct.POST("/leases/:destination", s.HandleJoinTemporarily)
	return e
}

func (s *Server) adminAuthMiddleware() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/_health"
		},
		KeyLookup:  "header:Authorization",
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) == 1 {
				return true, nil
			}
			s.logger.Warn("admin auth failed", "path", c.Request().URL.Path)
			return false, nil
		},
	})
}

func (s *Server) RunAPI(ctx context.Context, bind string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()
	s.logger.Info("starting admin API", "bind", bind)
	if err := s.echo.Start(bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin API failed: %w", err)
	}
	return nil
}

func pathParam(c echo.Context, name string) (string, error) {
	v, err := url.PathUnescape(c.Param(name))
	if err != nil || v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return v, nil
}

func accountParam(c echo.Context) (transport.AccountID, error) {
	v, err := pathParam(c, "account")
	return transport.AccountID(v), err
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	if _, err := s.store.ListJobs(c.Request().Context()); err != nil {
		s.logger.Error("healthcheck can't read job store", "err", err)
		return c.JSON(http.StatusInternalServerError, HealthStatus{Status: "error", Version: versioninfo.Short(), Message: "can't read job store"})
	}
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok", Version: versioninfo.Short()})
}

func (s *Server) HandleListLoops(c echo.Context) error {
	loops := s.supervisor.Snapshot()
	sort.Slice(loops, func(i, j int) bool { return loops[i].Account < loops[j].Account })
	return c.JSON(http.StatusOK, loops)
}

func (s *Server) HandleGetJob(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	job, err := s.store.GetJob(c.Request().Context(), acct)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no publishing job for account")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobToBody(job))
}

// Replaces the account's job, then restarts its loop so the change takes effect.
func (s *Server) HandlePutJob(c echo.Context) error {
	ctx := c.Request().Context()
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	var body jobBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	job := store.PublishingJob{
		Account:      acct,
		Payload:      transport.Payload{Text: body.Text},
		Interval:     time.Duration(body.IntervalSeconds) * time.Second,
		Destinations: body.Destinations,
		Active:       body.Active,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := job.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.PutJob(ctx, job); err != nil {
		return err
	}
	if err := s.reconfigure(ctx, acct); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobToBody(&job))
}

func (s *Server) HandleDeactivateJob(c echo.Context) error {
	ctx := c.Request().Context()
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	job, err := s.store.GetJob(ctx, acct)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no publishing job for account")
	}
	if err != nil {
		return err
	}
	job.Active = false
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.PutJob(ctx, *job); err != nil {
		return err
	}
	if err := s.reconfigure(ctx, acct); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobToBody(job))
}

func (s *Server) HandleReconfigure(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	if err := s.reconfigure(c.Request().Context(), acct); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loopStatus{Account: acct, State: s.supervisor.State(acct)})
}

func (s *Server) reconfigure(ctx context.Context, acct transport.AccountID) error {
	err := s.supervisor.Reconfigure(ctx, acct)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, publisher.ErrStopTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, publisher.ErrShutdown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

func (s *Server) HandleListFreezes(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	recs, err := s.ledger.List(c.Request().Context(), acct)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) HandleClearFreezes(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	n, err := s.ledger.Clear(c.Request().Context(), acct)
	if err != nil {
		return err
	}
	s.logger.Info("cleared freeze records", "account", acct, "count", n)
	return c.JSON(http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) HandleListWatched(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	refs, err := s.store.ListWatched(c.Request().Context(), acct)
	if err != nil {
		return err
	}
	if refs == nil {
		refs = []transport.IdentityRef{}
	}
	return c.JSON(http.StatusOK, refs)
}

func (s *Server) HandleAddWatched(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	ref, err := pathParam(c, "ref")
	if err != nil {
		return err
	}
	if err := s.store.AddWatched(c.Request().Context(), acct, transport.IdentityRef(ref)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) HandleRemoveWatched(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	ref, err := pathParam(c, "ref")
	if err != nil {
		return err
	}
	if err := s.store.RemoveWatched(c.Request().Context(), acct, transport.IdentityRef(ref)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) HandleListRules(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	rules, err := s.store.ListRules(c.Request().Context(), acct)
	if err != nil {
		return err
	}
	out := make([]ruleBody, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleToBody(&r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) HandlePutRule(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	kw, err := pathParam(c, "keyword")
	if err != nil {
		return err
	}
	var body ruleBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	if strings.TrimSpace(body.Response) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule response is required")
	}
	rule := store.ReplyRule{
		Account:  acct,
		Keyword:  kw,
		Response: transport.Payload{Text: body.Response},
	}
	for _, alt := range body.Alternates {
		if strings.TrimSpace(alt) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "alternate responses must not be empty")
		}
		rule.Alternates = append(rule.Alternates, transport.Payload{Text: alt})
	}
	if err := s.store.PutRule(c.Request().Context(), rule); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ruleToBody(&rule))
}

func (s *Server) HandleDeleteRule(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	kw, err := pathParam(c, "keyword")
	if err != nil {
		return err
	}
	if err := s.store.DeleteRule(c.Request().Context(), acct, kw); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) HandleJoinTemporarily(c echo.Context) error {
	acct, err := accountParam(c)
	if err != nil {
		return err
	}
	dest, err := pathParam(c, "destination")
	if err != nil {
		return err
	}
	if err := s.reaper.JoinTemporarily(c.Request().Context(), acct, transport.DestinationID(dest)); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}
