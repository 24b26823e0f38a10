package core

import (
	"context"
	"errors"
	"fmt"

	"ordergate/internal/blob"
	"ordergate/internal/config"
	"ordergate/internal/history"
	"ordergate/internal/inflow"
	"ordergate/internal/logger"
	"ordergate/internal/metrics"
	"ordergate/internal/monitor"
	"ordergate/internal/notify"
	"ordergate/internal/tracker"
	"ordergate/internal/validation"
	"ordergate/internal/validation/rules"
	"ordergate/pkg/domain"
)

// ErrNoOrderSource is returned by operations that need inFlow access when the
// app was built without credentials.
var ErrNoOrderSource = errors.New("order source not configured")

// App holds the assembled components. Source and Monitor are nil when inFlow
// credentials are absent (read-only commands).
type App struct {
	Config       *config.Config
	Log          *logger.Logger
	Metrics      *metrics.Prometheus
	Store        domain.ErrorStore
	Blobs        blob.Store
	Tracker      *tracker.Tracker
	Orchestrator *validation.Orchestrator
	Source       domain.OrderSource
	Notifier     domain.Notifier
	Monitor      *monitor.Monitor
	Archive      *history.Archive
	CSVLog       *history.CSVLog
}

// Option overrides a component during assembly.
type Option func(*App)

// WithOrderSource replaces the inFlow client.
func WithOrderSource(src domain.OrderSource) Option {
	return func(a *App) { a.Source = src }
}

// WithNotifier replaces the email notifier.
func WithNotifier(n domain.Notifier) Option {
	return func(a *App) { a.Notifier = n }
}

// WithErrorStore replaces the configured error store.
func WithErrorStore(s domain.ErrorStore) Option {
	return func(a *App) { a.Store = s }
}

// WithBlobStore replaces the configured blob store.
func WithBlobStore(s blob.Store) Option {
	return func(a *App) { a.Blobs = s }
}

// NewApp builds every component from cfg. On error, anything already opened is closed.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (app *App, err error) {
	log = logger.OrNop(log)
	a := &App{Config: cfg, Log: log, Metrics: metrics.NewPrometheus()}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Blobs == nil {
		if a.Blobs, err = blob.Open(ctx, cfg.Blob); err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
	}
	if a.Store == nil {
		if a.Store, err = OpenErrorStore(ctx, cfg.Storage, a.Blobs); err != nil {
			return nil, fmt.Errorf("open error store: %w", err)
		}
	}
	a.Tracker = tracker.New(a.Store,
		tracker.WithLogger(log),
		tracker.WithMetrics(a.Metrics),
		tracker.WithEntryTTL(cfg.Tracker.EntryTTL),
	)
	a.Orchestrator = validation.New(rules.NewNormalizer(), a.Tracker,
		validation.WithGracePeriod(cfg.Tracker.GracePeriod),
		validation.WithLogger(log),
		validation.WithMetrics(a.Metrics),
	)
	a.Orchestrator.Register(rules.Default()...)

	if cfg.History.Enabled {
		a.Archive = history.NewArchive(a.Blobs)
		if a.CSVLog, err = history.NewCSVLog(cfg.History.CSVDir); err != nil {
			return nil, err
		}
	}

	if a.Source == nil && cfg.Inflow.APIKey != "" && cfg.Inflow.CompanyID != "" {
		a.Source, err = inflow.New(inflow.Config{
			APIKey:            cfg.Inflow.APIKey,
			CompanyID:         cfg.Inflow.CompanyID,
			BaseURL:           cfg.Inflow.BaseURL,
			RequestsPerSecond: cfg.Inflow.RequestsPerSecond,
			FetchDelay:        cfg.Inflow.FetchDelay,
		}, inflow.WithLogger(log))
		if err != nil {
			return nil, err
		}
	}
	if a.Notifier == nil {
		if a.Notifier, err = newNotifier(ctx, cfg.Email, log); err != nil {
			return nil, err
		}
	}
	if a.Source != nil {
		a.Monitor = monitor.New(a.Tracker, a.Source, a.Notifier,
			monitor.WithInterval(cfg.Monitor.Interval),
			monitor.WithGracePeriod(cfg.Tracker.GracePeriod),
			monitor.WithStopTimeout(cfg.Monitor.StopTimeout),
			monitor.WithLogger(log),
			monitor.WithMetrics(a.Metrics),
			monitor.WithReportRecorder(a.record),
		)
	}
	return a, nil
}

func newNotifier(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (*notify.EmailNotifier, error) {
	var mailer notify.Mailer = notify.NewLogMailer(log)
	if cfg.Enabled {
		gm, err := notify.NewGraphMailer(ctx, notify.GraphConfig{
			TenantID:     cfg.TenantID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			FromAddress:  cfg.FromAddress,
		})
		if err != nil {
			return nil, err
		}
		mailer = gm
	}
	return notify.New(mailer, notify.Config{
		AdminEmails:   cfg.AdminEmails,
		TestingMode:   cfg.TestingMode,
		TestRecipient: cfg.TestRecipient,
	}, log), nil
}

// Outcome is the result of processing one order.
type Outcome struct {
	Report    domain.Report `json:"report"`
	Notified  bool          `json:"notified"`
	NotifyErr string        `json:"notify_error,omitempty"`
}

// Process fetches an order, validates it, records the report and, when
// alert is set and the status warrants it, alerts staff. Archival and
// notification failures are logged and reflected in the outcome; only a
// failed fetch is returned as an error.
func (a *App) Process(ctx context.Context, orderID string, alert bool) (Outcome, error) {
	if a.Source == nil {
		return Outcome{}, ErrNoOrderSource
	}
	order, err := a.Source.FetchOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	report := a.Orchestrator.Validate(ctx, order)
	a.record(ctx, report)

	out := Outcome{Report: report}
	if !alert || !report.Status.Notifiable() {
		return out, nil
	}
	if err := a.Notifier.Notify(ctx, report, order); err != nil {
		a.Metrics.IncNotification(false)
		a.Log.Error("notification failed", "order_id", report.OrderID, "error", err)
		out.NotifyErr = err.Error()
		return out, nil
	}
	a.Metrics.IncNotification(true)
	out.Notified = true
	return out, nil
}

func (a *App) record(ctx context.Context, report domain.Report) {
	if a.Archive != nil {
		if err := a.Archive.Save(ctx, report); err != nil {
			a.Log.Warn("archive report failed", "order_id", report.OrderID, "error", err)
		}
	}
	if a.CSVLog != nil {
		if err := a.CSVLog.Append(report); err != nil {
			a.Log.Warn("csv log append failed", "order_id", report.OrderID, "error", err)
		}
	}
}

// History returns archived reports for an order, newest first.
func (a *App) History(ctx context.Context, orderID string) ([]domain.Report, error) {
	if a.Archive == nil {
		return nil, nil
	}
	return a.Archive.List(ctx, orderID)
}

// Close stops the monitor and releases the error store.
func (a *App) Close() error {
	var errs []error
	if a.Monitor != nil {
		if err := a.Monitor.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
