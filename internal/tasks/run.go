package tasks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"breaker-monitor/internal/collector"
	"breaker-monitor/internal/config"
	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/db"
	"breaker-monitor/internal/influx"
	"breaker-monitor/internal/logging"
	"breaker-monitor/internal/metrics"
	"breaker-monitor/internal/modbus"
	"breaker-monitor/internal/normalizer"
	"breaker-monitor/internal/sheet"
	"breaker-monitor/internal/tuya"
	"breaker-monitor/internal/web"
)

// Options defines initialization overrides for the service.
// Mirrors the CLI flags used in cmd/monitor/main.go.
type Options struct {
	ConfigPath string
	// Console prints every snapshot through the logger.
	Console   bool
	LogOutput io.Writer
	// LogLevel overrides log.level when set.
	LogLevel string
}

// Service is the wired set of components for one device.
type Service struct {
	Config     config.Config
	Logs       *logging.Logrus
	Normalizer *normalizer.Normalizer
	Latest     *collector.Latest
	Metrics    *metrics.Metrics
	DB         *db.DB
	Workbook   *sheet.Workbook
	Journal    *collector.Journal
	Influx     *influx.Sink
	Gateway    *modbus.Gateway
	Cloud      *tuya.Client
	Fanout     *collector.Fanout
	Poller     *collector.Poller
	Web        *web.Server

	closers []io.Closer
}

// InitAndRun loads config, applies overrides, builds the service and runs it
// until ctx is cancelled or a component fails.
func InitAndRun(ctx context.Context, opts Options) error {
	cfg, err := config.LoadYAML(opts.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	svc, err := Build(cfg, opts)
	if err != nil {
		return err
	}
	return svc.Manager().Run(ctx)
}

// Build opens every configured sink and constructs the poller and API.
// On error everything opened so far is closed.
func Build(cfg config.Config, opts Options) (_ *Service, err error) {
	loc := cfg.Location()
	s := &Service{
		Config:     cfg,
		Logs:       logging.NewLogrus(cfg.Log.Level, opts.LogOutput),
		Normalizer: normalizer.New(datapoint.DefaultCatalog()),
		Latest:     &collector.Latest{},
		Metrics:    metrics.New(),
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()
	log := s.Logs.Get("tasks")

	if s.DB, err = db.Open(cfg.Storage.DBPath, db.WithLocation(loc)); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.DB)
	s.Metrics.RegisterRowCount(func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := s.DB.Count(ctx)
		if err != nil {
			log.WithError(err).Debug("row count failed")
			return 0
		}
		return float64(n)
	})

	sinks := []collector.Sink{s.Latest, s.DB}

	if cfg.Storage.Workbook != "" {
		s.Workbook, err = sheet.Open(cfg.Storage.Workbook, sheet.Options{
			Location:  loc,
			QueueSize: cfg.Storage.QueueSize,
			Log:       s.Logs.Get("workbook"),
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.Workbook)
		sinks = append(sinks, s.Workbook)
	}

	if cfg.Storage.JournalDir != "" {
		if s.Journal, err = collector.NewJournal(cfg.Storage.JournalDir, cfg.Storage.JournalFormat, cfg.Storage.QueueSize, s.Logs.Get("journal")); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.Journal)
		sinks = append(sinks, s.Journal)
	}

	if cfg.Influx.Enabled {
		s.Influx = influx.New(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		s.closers = append(s.closers, s.Influx)
		sinks = append(sinks, s.Influx)
	}

	if cfg.Modbus.Enabled {
		s.Gateway = modbus.NewGateway(s.Logs.Get("modbus"))
		s.closers = append(s.closers, s.Gateway)
		sinks = append(sinks, s.Gateway)
	}

	if opts.Console {
		sinks = append(sinks, collector.Console{Log: s.Logs.Get("console")})
	}

	s.Fanout = &collector.Fanout{Sinks: sinks, Log: s.Logs.Get("fanout"), Observer: s.Metrics}
	s.Poller = &collector.Poller{
		Normalizer: s.Normalizer,
		DeviceID:   cfg.Device.ID,
		Interval:   cfg.Polling.Interval,
		Sink:       s.Fanout,
		Observer:   s.Metrics,
		Log:        s.Logs.Get("poller"),
		Now:        func() time.Time { return time.Now().In(loc) },
	}

	webOpts := web.Options{
		DeviceID:  cfg.Device.ID,
		Location:  loc,
		Tariff:    cfg.Tariff.Slabs,
		Currency:  cfg.Tariff.Currency,
		Snapshots: s.Latest,
		Store:     s.DB,
		Push:      s.Poller,
		PushToken: cfg.HTTP.PushToken,
		Metrics:   s.Metrics.Handler(),
		SwitchTTL: cfg.HTTP.SwitchCacheTTL,
		Log:       s.Logs.Get("web"),
	}
	if cfg.Tuya.AccessID != "" && cfg.Tuya.AccessKey != "" {
		s.Cloud = tuya.NewClient(cfg.Tuya.Endpoint, cfg.Tuya.AccessID, cfg.Tuya.AccessKey,
			tuya.WithHTTPClient(&http.Client{Timeout: cfg.Tuya.Timeout}),
			tuya.WithLogger(s.Logs.Get("tuya")),
		)
		s.Poller.API = s.Cloud
		webOpts.Switch = s.Cloud
	} else {
		log.Warn("tuya credentials not set; polling and switch control disabled")
	}
	s.Web = web.New(webOpts)
	return s, nil
}

// Manager returns the task set: poller, HTTP API and Modbus gateway.
func (s *Service) Manager() *collector.Manager {
	cfg := s.Config
	m := &collector.Manager{Log: s.Logs.Get("manager"), Closers: s.closers}

	if cfg.PollingEnabled() && s.Cloud != nil {
		m.Tasks = append(m.Tasks, collector.Task{Name: "poller", Run: func(ctx context.Context) error {
			if err := s.Cloud.Connect(ctx, cfg.Tuya.ConnectTimeout); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			return s.Poller.Run(ctx)
		}})
	}
	if cfg.HTTP.Listen != "" {
		m.Tasks = append(m.Tasks, collector.Task{Name: "http", Run: func(ctx context.Context) error {
			return s.Web.Run(ctx, cfg.HTTP.Listen)
		}})
	}
	if s.Gateway != nil {
		m.Tasks = append(m.Tasks, collector.Task{Name: "modbus", Run: func(ctx context.Context) error {
			return s.Gateway.Run(ctx, cfg.Modbus.Listen)
		}})
	}
	return m
}

// Close releases every opened sink. Used when the manager never ran.
func (s *Service) Close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}
