// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package runner drives one end-to-end report cycle: guard, configuration,
// log sink, connectivity pre-check, query, render, delivery, failure
// notification and cleanup. It is the single point that classifies errors
// and converts them into a terminal RunOutcome.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/change-report/pkg/change"
	"github.com/telekom/change-report/pkg/config"
	"github.com/telekom/change-report/pkg/guard"
	"github.com/telekom/change-report/pkg/logging"
	"github.com/telekom/change-report/pkg/mail"
	"github.com/telekom/change-report/pkg/outcome"
	"github.com/telekom/change-report/pkg/report"
	"github.com/telekom/change-report/pkg/secrets"
	"github.com/telekom/change-report/pkg/store"
)

// Options are the invocation parameters of one report cycle.
type Options struct {
	ConfigPath string
	ReportDate time.Time
	TestMode   bool
	Force      bool
	StateDir   string
	Debug      bool
}

// DataSource is the report data source contract consumed by the runner.
// *store.Store satisfies it; tests substitute fakes.
type DataSource interface {
	CheckConnectivity(ctx context.Context) error
	Open(ctx context.Context) error
	FetchChanges(ctx context.Context, day time.Time) ([]change.Record, error)
	Close() error
}

// MailSender delivers one rendered document.
type MailSender interface {
	Send(subject, body string) error
}

// Acquirer is the single-instance guard contract.
type Acquirer interface {
	Acquire(day time.Time, runID string, force bool) error
}

// Runner executes report cycles. Construction wires the production
// collaborators; the factory fields exist as seams for the end-to-end tests.
type Runner struct {
	opts     Options
	log      *zap.SugaredLogger
	resolver secrets.Resolver
	guard    Acquirer
	clock    func() time.Time

	newStore  func(cfg config.DatabaseConfig, log *zap.SugaredLogger) DataSource
	newSender func(cfg config.EmailConfig, artifacts mail.ArtifactWriter, log *zap.SugaredLogger) (MailSender, error)
}

// New builds a runner with production collaborators.
func New(opts Options, log *zap.SugaredLogger) *Runner {
	resolver := secrets.Keyring{}
	return &Runner{
		opts:     opts,
		log:      log,
		resolver: resolver,
		guard:    guard.New(opts.StateDir, log),
		clock:    time.Now,
		newStore: func(cfg config.DatabaseConfig, log *zap.SugaredLogger) DataSource {
			return store.New(cfg, resolver, log)
		},
		newSender: func(cfg config.EmailConfig, artifacts mail.ArtifactWriter, log *zap.SugaredLogger) (MailSender, error) {
			return mail.NewSender(cfg, resolver, artifacts, log)
		},
	}
}

// Run executes one report cycle and always terminates with a well-defined
// outcome. There is no whole-pipeline retry; the external scheduler re-runs
// daily. On failure after the configuration was loaded, a best-effort error
// notification is attempted.
func (r *Runner) Run(ctx context.Context) outcome.Outcome {
	day := dateOnly(r.opts.ReportDate)
	runID := uuid.NewString()
	log := r.log.With("runID", runID, "reportDate", day.Format("2006-01-02"))
	log.Infow("Starting report cycle", "testMode", r.opts.TestMode, "force", r.opts.Force)

	if err := r.guard.Acquire(day, runID, r.opts.Force); err != nil {
		log.Warnw("Report cycle not started", "error", err)
		return outcome.Failed(err)
	}

	cfg, err := config.Load(r.opts.ConfigPath)
	if err != nil {
		// Mail settings never loaded: no notification possible, log only.
		log.Errorw("Configuration rejected", "error", err)
		return outcome.Failed(err)
	}

	out, sink := r.execute(ctx, cfg, day, runID)
	if out.Success {
		log.Infow("Report cycle finished", "changes", out.ChangeCount)
		return out
	}

	log.Errorw("Report cycle failed", "category", out.Category.String(), "error", out.Err)
	r.notifyFailure(cfg, sink, out, day, runID, log)
	return out
}

// execute runs steps 3-7: log sink, pre-check, fetch, render, deliver. The
// returned sink (nil if initialization failed) is reused for the failure
// notification's fallback artifact.
func (r *Runner) execute(ctx context.Context, cfg *config.Config, day time.Time, runID string) (outcome.Outcome, *logging.Sink) {
	sink, err := logging.NewSink(cfg.Logging.LogPath, cfg.Logging.Level())
	if err != nil {
		return outcome.Failed(outcome.Wrap(outcome.Configuration, err)), nil
	}
	log := logging.NewRunLogger(r.opts.Debug, sink).With("runID", runID)
	defer func() { _ = log.Sync() }()
	log.Infow("Report cycle started", "reportDate", day.Format("2006-01-02"), "testMode", r.opts.TestMode)

	src := r.newStore(cfg.Database, log)
	// Guaranteed release: whatever happens below, the session is closed.
	defer func() { _ = src.Close() }()

	// Fail fast before committing to the full sequence.
	if err := src.CheckConnectivity(ctx); err != nil {
		log.Errorw("Database connectivity pre-check failed", "error", err)
		return outcome.Failed(err), sink
	}
	log.Debugw("Database connectivity pre-check passed")

	records, err := r.fetch(ctx, src, day)
	if err != nil {
		log.Errorw("Change query failed", "error", err)
		return outcome.Failed(err), sink
	}

	meta := report.Meta{RunID: runID, GeneratedAt: r.clock()}
	var body string
	if len(records) == 0 {
		log.Infow("No changes for report date, rendering confirmation")
		body, err = report.RenderNoChanges(day, meta)
	} else {
		log.Infow("Rendering change report", "changes", len(records))
		body, err = report.RenderReport(records, day, meta)
	}
	if err != nil {
		return outcome.Failed(outcome.Wrap(outcome.General, fmt.Errorf("rendering report: %w", err))), sink
	}
	subject := report.Subject(day, len(records))

	if r.opts.TestMode {
		path, err := sink.WriteArtifact("test-report", []byte(body))
		if err != nil {
			return outcome.Failed(outcome.Wrap(outcome.General, err)), sink
		}
		log.Infow("Test mode: report persisted instead of sent", "path", path, "subject", subject)
		return outcome.Succeeded(len(records)), sink
	}

	sender, err := r.newSender(cfg.Email, sink, log)
	if err != nil {
		return outcome.Failed(err), sink
	}
	if err := sender.Send(subject, body); err != nil {
		return outcome.Failed(err), sink
	}
	log.Infow("Report delivered", "subject", subject, "changes", len(records))
	return outcome.Succeeded(len(records)), sink
}

// fetch opens a session, runs the change query and closes the session again.
// Closure is deferred so it happens even when the query errors.
func (r *Runner) fetch(ctx context.Context, src DataSource, day time.Time) ([]change.Record, error) {
	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return src.FetchChanges(ctx, day)
}

// notifyFailure sends the best-effort error notification. Skipped silently
// in test mode (no transport contact) and for guard trips (handled before
// configuration is available). A notification failure is logged, never
// propagated: it must not change the run outcome.
func (r *Runner) notifyFailure(cfg *config.Config, sink *logging.Sink, out outcome.Outcome, day time.Time, runID string, log *zap.SugaredLogger) {
	if sink != nil {
		// The notification's fate belongs in the day's log file too.
		log = logging.NewRunLogger(r.opts.Debug, sink).With("runID", runID)
		defer func() { _ = log.Sync() }()
	}
	if r.opts.TestMode {
		log.Infow("Test mode: error notification suppressed")
		return
	}
	message := "unknown error"
	if out.Err != nil {
		message = out.Err.Error()
	}
	meta := report.Meta{RunID: runID, GeneratedAt: r.clock()}
	body, err := report.RenderErrorNotification(out.Category.String(), message, day, meta)
	if err != nil {
		log.Warnw("Failed to render error notification", "error", err)
		return
	}
	var artifacts mail.ArtifactWriter
	if sink != nil {
		artifacts = sink
	}
	sender, err := r.newSender(cfg.Email, artifacts, log)
	if err != nil {
		log.Warnw("Failed to build error notification sender", "error", err)
		return
	}
	if err := sender.Send(report.ErrorSubject(day, out.Category.String()), body); err != nil {
		log.Warnw("Failed to deliver error notification", "error", err)
		return
	}
	log.Infow("Error notification delivered", "category", out.Category.String())
}

// dateOnly truncates a timestamp to its calendar date, defaulting to today.
func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
