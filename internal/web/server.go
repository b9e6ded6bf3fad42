// Package web serves the dashboard JSON API, the push webhook and /metrics.
package web

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"breaker-monitor/internal/collector"
	"breaker-monitor/internal/db"
	"breaker-monitor/internal/model"
	"breaker-monitor/internal/tariff"
	"breaker-monitor/internal/utils"
)

const (
	httpTimeout  = 10 * time.Second
	defaultLimit = 500
	// PushTokenHeader carries the webhook token; the "token" query parameter is also accepted.
	PushTokenHeader = "X-Push-Token"
)

type Snapshots interface {
	Get() (model.Snapshot, bool)
}

type Store interface {
	History(ctx context.Context, q db.Query) ([]db.Row, error)
	PowerSamples(ctx context.Context, deviceID string, from, to time.Time) ([]tariff.Sample, error)
	Days(ctx context.Context, deviceID string) ([]string, error)
}

type Switch interface {
	SwitchStatus(ctx context.Context, deviceID string) (bool, error)
	SetSwitch(ctx context.Context, deviceID string, on bool) error
}

type PushHandler interface {
	HandlePush(ctx context.Context, msg collector.PushMessage) (model.Snapshot, error)
}

// Options wires the server. Nil dependencies disable their routes with 503.
type Options struct {
	DeviceID  string
	Location  *time.Location
	Tariff    tariff.Table
	Currency  string
	Snapshots Snapshots
	Store     Store
	Switch    Switch
	Push      PushHandler
	PushToken string
	Metrics   http.Handler
	SwitchTTL time.Duration
	Log       *logrus.Entry
	Now       func() time.Time
}

type Server struct {
	opts        Options
	router      *httprouter.Router
	switchCache *utils.TTLCache[bool]
}

func New(opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Tariff == nil {
		opts.Tariff = tariff.DefaultTable()
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:        opts,
		router:      httprouter.New(),
		switchCache: utils.NewTTLCache[bool](opts.SwitchTTL).WithClock(opts.Now),
	}

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/api/snapshot", s.handleSnapshot)
	s.router.GET("/api/history", s.handleHistory)
	s.router.GET("/api/days", s.handleDays)
	s.router.GET("/api/energy", s.handleEnergy)
	s.router.GET("/api/cost", s.handleCost)
	s.router.GET("/api/tariff", s.handleTariff)
	s.router.GET("/api/switch", s.handleSwitchStatus)
	s.router.POST("/api/switch/:state", s.handleSetSwitch)
	s.router.POST("/api/push", s.handlePush)
	if opts.Metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", opts.Metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.opts.Log.WithField("addr", addr).Info("http api listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type snapshotResponse struct {
	Status   string          `json:"status"`
	Clock    string          `json:"clock,omitempty"`
	Lines    []string        `json:"lines,omitempty"`
	Snapshot *model.Snapshot `json:"snapshot"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.opts.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots unavailable")
		return
	}
	snap, ok := s.opts.Snapshots.Get()
	if !ok {
		writeJSON(w, http.StatusOK, snapshotResponse{Status: model.Snapshot{}.Status()})
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		Status:   snap.Status(),
		Clock:    snap.Clock(),
		Lines:    snap.Lines(),
		Snapshot: &snap,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	from, to, day, err := s.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	rows, err := s.opts.Store.History(r.Context(), db.Query{
		DeviceID: s.opts.DeviceID,
		Code:     r.URL.Query().Get("code"),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		s.internalError(w, err, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": day, "rows": rows})
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	days, err := s.opts.Store.Days(r.Context(), s.opts.DeviceID)
	if err != nil {
		s.internalError(w, err, "days query failed")
		return
	}
	if days == nil {
		days = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

type energyResponse struct {
	Date     string `json:"date"`
	Currency string `json:"currency"`
	tariff.Usage
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	from, to, day, err := s.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples, err := s.opts.Store.PowerSamples(r.Context(), s.opts.DeviceID, from, to)
	if err != nil {
		s.internalError(w, err, "power samples query failed")
		return
	}
	usage := s.opts.Tariff.Integrate(samples)
	if usage.Points == nil {
		usage.Points = []tariff.UsagePoint{}
	}
	writeJSON(w, http.StatusOK, energyResponse{Date: day, Currency: s.opts.Currency, Usage: usage})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	kwh, err := strconv.ParseFloat(r.URL.Query().Get("kwh"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "kwh must be a number")
		return
	}
	if math.IsNaN(kwh) || math.IsInf(kwh, 0) {
		writeError(w, http.StatusBadRequest, "kwh must be a finite number")
		return
	}
	breakdown := s.opts.Tariff.Breakdown(kwh)
	if breakdown == nil {
		breakdown = []tariff.Breakdown{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kwh":       kwh,
		"cost":      s.opts.Tariff.Cost(kwh),
		"currency":  s.opts.Currency,
		"breakdown": breakdown,
	})
}

func (s *Server) handleTariff(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"currency": s.opts.Currency, "slabs": s.opts.Tariff})
}

func (s *Server) handleSwitchStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.opts.Switch == nil {
		writeError(w, http.StatusServiceUnavailable, "switch control unavailable")
		return
	}
	on, cached := s.switchCache.Get()
	if !cached {
		var err error
		if on, err = s.opts.Switch.SwitchStatus(r.Context(), s.opts.DeviceID); err != nil {
			s.opts.Log.WithError(err).Warn("switch status failed")
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.switchCache.Set(on)
	}
	writeJSON(w, http.StatusOK, map[string]any{"on": on, "state": switchState(on), "cached": cached})
}

func (s *Server) handleSetSwitch(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if s.opts.Switch == nil {
		writeError(w, http.StatusServiceUnavailable, "switch control unavailable")
		return
	}
	var on bool
	switch p.ByName("state") {
	case "on":
		on = true
	case "off":
	default:
		writeError(w, http.StatusBadRequest, "state must be on or off")
		return
	}
	s.switchCache.Invalidate()
	if err := s.opts.Switch.SetSwitch(r.Context(), s.opts.DeviceID, on); err != nil {
		s.opts.Log.WithError(err).WithField("state", p.ByName("state")).Warn("switch command failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.opts.Log.WithField("state", switchState(on)).Info("switch command sent")
	writeJSON(w, http.StatusOK, map[string]any{"on": on, "state": switchState(on)})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.opts.Push == nil {
		writeError(w, http.StatusServiceUnavailable, "push unavailable")
		return
	}
	if s.opts.PushToken != "" {
		token := r.Header.Get(PushTokenHeader)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.opts.PushToken {
			writeError(w, http.StatusUnauthorized, "token mismatch")
			return
		}
	}

	var msg collector.PushMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid push message: "+err.Error())
		return
	}
	snap, err := s.opts.Push.HandlePush(r.Context(), msg)
	switch {
	case errors.Is(err, collector.ErrNoStatus):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	case err != nil:
		s.internalError(w, err, "push handling failed")
	default:
		writeJSON(w, http.StatusOK, snapshotResponse{Status: snap.Status(), Clock: snap.Clock(), Snapshot: &snap})
	}
}

// dayParam resolves ?date= (default today) into local day bounds.
func (s *Server) dayParam(r *http.Request) (time.Time, time.Time, string, error) {
	day := r.URL.Query().Get("date")
	if day == "" {
		day = s.opts.Now().In(s.opts.Location).Format("2006-01-02")
	}
	from, to, err := db.DayBounds(day, s.opts.Location)
	return from, to, day, err
}

func (s *Server) internalError(w http.ResponseWriter, err error, msg string) {
	s.opts.Log.WithError(err).Error(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func switchState(on bool) string {
	if on {
		return model.SwitchOn
	}
	return model.SwitchOff
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
