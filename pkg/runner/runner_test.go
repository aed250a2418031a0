package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/change-report/pkg/change"
	"github.com/telekom/change-report/pkg/config"
	"github.com/telekom/change-report/pkg/guard"
	"github.com/telekom/change-report/pkg/mail"
	"github.com/telekom/change-report/pkg/outcome"
)

var reportDay = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

// fakeSource is a scriptable report data source that records every call.
type fakeSource struct {
	records     []change.Record
	pingErr     error
	fetchErr    error
	pingCalls   int
	openCalls   int
	fetchCalls  int
	closeCalls  int
	openAtFetch bool
	opened      bool
}

func (f *fakeSource) CheckConnectivity(context.Context) error {
	f.pingCalls++
	return f.pingErr
}

func (f *fakeSource) Open(context.Context) error {
	f.openCalls++
	f.opened = true
	return nil
}

func (f *fakeSource) FetchChanges(_ context.Context, _ time.Time) ([]change.Record, error) {
	f.fetchCalls++
	f.openAtFetch = f.opened
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.records, nil
}

func (f *fakeSource) Close() error {
	f.closeCalls++
	f.opened = false
	return nil
}

// fakeSender records every delivery attempt.
type fakeSender struct {
	sendErr  error
	subjects []string
	bodies   []string
}

func (f *fakeSender) Send(subject, body string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return f.sendErr
}

type fixture struct {
	runner *Runner
	source *fakeSource
	sender *fakeSender
	logDir string
}

func newFixture(t *testing.T, records []change.Record, opts Options) *fixture {
	t.Helper()

	logDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.json")
	content := fmt.Sprintf(`{
	  "Database": { "Server": "db.example.com", "Database": "changedb", "AuthType": "Windows" },
	  "Email":    { "SMTPServer": "smtp.example.com", "Port": 25,
	                "From": "reports@example.com", "To": ["ops@example.com"] },
	  "Logging":  { "LogPath": %q, "LogLevel": "Debug" }
	}`, logDir)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	opts.ConfigPath = configPath
	if opts.StateDir == "" {
		opts.StateDir = t.TempDir()
	}
	if opts.ReportDate.IsZero() {
		opts.ReportDate = reportDay
	}

	source := &fakeSource{records: records}
	sender := &fakeSender{}
	log := zap.NewNop().Sugar()

	r := New(opts, log)
	r.clock = func() time.Time { return time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC) }
	r.newStore = func(config.DatabaseConfig, *zap.SugaredLogger) DataSource { return source }
	r.newSender = func(config.EmailConfig, mail.ArtifactWriter, *zap.SugaredLogger) (MailSender, error) {
		return sender, nil
	}

	return &fixture{runner: r, source: source, sender: sender, logDir: logDir}
}

func criticalHighRecords() []change.Record {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	return []change.Record{
		{ID: "CHG001", Priority: change.PriorityCritical, ShortDescription: "Router firmware", ActualStart: start},
		{ID: "CHG002", Priority: change.PriorityCritical, ShortDescription: "DB failover", ActualStart: start.Add(time.Hour)},
		{ID: "CHG003", Priority: change.PriorityHigh, ShortDescription: "Cert renewal", ActualStart: start.Add(2 * time.Hour)},
	}
}

func TestRunReportWithChanges(t *testing.T) {
	f := newFixture(t, criticalHighRecords(), Options{})

	out := f.runner.Run(context.Background())

	require.True(t, out.Success, "outcome: %+v", out)
	assert.Equal(t, 3, out.ChangeCount)
	assert.Equal(t, 0, out.ExitCode())

	require.Len(t, f.sender.subjects, 1)
	assert.Contains(t, f.sender.subjects[0], "3")
	assert.Contains(t, f.sender.subjects[0], "2024-01-15")

	body := f.sender.bodies[0]
	iA := strings.Index(body, "CHG001")
	iB := strings.Index(body, "CHG002")
	iC := strings.Index(body, "CHG003")
	assert.True(t, iA >= 0 && iA < iB && iB < iC, "rows grouped Critical, Critical, High")

	assert.Equal(t, 1, f.source.pingCalls, "connectivity pre-check runs once")
	assert.Equal(t, 1, f.source.fetchCalls)
	assert.True(t, f.source.openAtFetch, "query runs against an open session")
	assert.GreaterOrEqual(t, f.source.closeCalls, 1, "session released")
}

func TestRunNoChanges(t *testing.T) {
	f := newFixture(t, nil, Options{})

	out := f.runner.Run(context.Background())

	require.True(t, out.Success)
	assert.Equal(t, 0, out.ChangeCount)

	require.Len(t, f.sender.subjects, 1)
	assert.Contains(t, f.sender.subjects[0], "No")
	assert.Contains(t, f.sender.bodies[0], "No Critical or High")
}

func TestRunConnectivityPrecheckFails(t *testing.T) {
	f := newFixture(t, criticalHighRecords(), Options{})
	f.source.pingErr = outcome.Errorf(outcome.Database, "dial tcp: connection refused")

	out := f.runner.Run(context.Background())

	require.False(t, out.Success)
	assert.Equal(t, outcome.Database, out.Category)
	assert.Equal(t, 3, out.ExitCode())
	assert.Zero(t, f.source.fetchCalls, "no query after a failed pre-check")

	// The failure notification was attempted through the transport.
	require.Len(t, f.sender.subjects, 1)
	assert.Contains(t, f.sender.subjects[0], "FAILED")
	assert.Contains(t, f.sender.bodies[0], "Database")
}

func TestRunTestMode(t *testing.T) {
	f := newFixture(t, criticalHighRecords(), Options{TestMode: true})

	out := f.runner.Run(context.Background())

	require.True(t, out.Success)
	assert.Equal(t, 3, out.ChangeCount)
	assert.Empty(t, f.sender.subjects, "test mode never contacts the transport")

	// The rendered document was persisted into the log sink instead.
	entries, err := os.ReadDir(f.logDir)
	require.NoError(t, err)
	var artifact string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "test-report-") {
			artifact = filepath.Join(f.logDir, e.Name())
		}
	}
	require.NotEmpty(t, artifact, "test-mode report artifact missing")
	content, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CHG001")
}

func TestRunGuardTripped(t *testing.T) {
	stateDir := t.TempDir()
	first := newFixture(t, criticalHighRecords(), Options{StateDir: stateDir})
	require.True(t, first.runner.Run(context.Background()).Success)

	second := newFixture(t, criticalHighRecords(), Options{StateDir: stateDir})
	out := second.runner.Run(context.Background())

	require.False(t, out.Success)
	assert.Equal(t, outcome.AlreadyRunning, out.Category)
	assert.Equal(t, 5, out.ExitCode())
	assert.Zero(t, second.source.pingCalls, "guard trip means no data-source contact")
	assert.Zero(t, second.source.fetchCalls)
	assert.Empty(t, second.sender.subjects, "guard trip means no transport contact")
}

func TestRunGuardForced(t *testing.T) {
	stateDir := t.TempDir()
	first := newFixture(t, nil, Options{StateDir: stateDir})
	require.True(t, first.runner.Run(context.Background()).Success)

	second := newFixture(t, nil, Options{StateDir: stateDir, Force: true})
	out := second.runner.Run(context.Background())

	assert.True(t, out.Success, "force bypasses the recent-execution guard")
}

func TestRunConfigError(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.runner.opts.ConfigPath = filepath.Join(t.TempDir(), "missing.json")

	out := f.runner.Run(context.Background())

	require.False(t, out.Success)
	assert.Equal(t, outcome.Configuration, out.Category)
	assert.Equal(t, 2, out.ExitCode())
	assert.Empty(t, f.sender.subjects, "no notification when mail settings never loaded")
}

func TestRunQueryFailureClosesSession(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.source.fetchErr = outcome.Errorf(outcome.Database, "statement timeout")

	out := f.runner.Run(context.Background())

	require.False(t, out.Success)
	assert.Equal(t, outcome.Database, out.Category)
	assert.GreaterOrEqual(t, f.source.closeCalls, 1, "session closed even when the query fails")
}

func TestRunEmailFailure(t *testing.T) {
	f := newFixture(t, criticalHighRecords(), Options{})
	f.sender.sendErr = outcome.Errorf(outcome.Email, "smtp unreachable")

	out := f.runner.Run(context.Background())

	require.False(t, out.Success)
	assert.Equal(t, outcome.Email, out.Category)
	assert.Equal(t, 4, out.ExitCode())
}

func TestRunSenderConstructionFailure(t *testing.T) {
	f := newFixture(t, criticalHighRecords(), Options{})
	f.runner.newSender = func(config.EmailConfig, mail.ArtifactWriter, *zap.SugaredLogger) (MailSender, error) {
		return nil, outcome.Errorf(outcome.Email, "credential missing")
	}

	out := f.runner.Run(context.Background())

	require.False(t, out.Success)
	assert.Equal(t, outcome.Email, out.Category)
}

func TestRunWritesDayLog(t *testing.T) {
	f := newFixture(t, nil, Options{})

	require.True(t, f.runner.Run(context.Background()).Success)

	content, err := os.ReadFile(filepath.Join(f.logDir, "changereport-"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO]")
}

func TestNotifyFailureWritesDayLog(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.source.pingErr = outcome.Errorf(outcome.Database, "down")

	out := f.runner.Run(context.Background())
	require.False(t, out.Success)

	content, err := os.ReadFile(filepath.Join(f.logDir, "changereport-"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Error notification delivered",
		"the notification's fate is recorded in the day's log file")
}

func TestDateOnly(t *testing.T) {
	ts := time.Date(2024, 1, 15, 17, 45, 12, 999, time.UTC)
	assert.Equal(t, reportDay, dateOnly(ts))
	assert.False(t, dateOnly(time.Time{}).IsZero(), "zero date defaults to today")
}

func TestGuardIntegration(t *testing.T) {
	// The production guard wired by New is the lease-file guard.
	r := New(Options{StateDir: t.TempDir()}, zap.NewNop().Sugar())
	_, ok := r.guard.(*guard.Guard)
	assert.True(t, ok)
}

func TestRunErrorNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.source.pingErr = outcome.Errorf(outcome.Database, "down")
	f.sender.sendErr = errors.New("notification also failed")

	out := f.runner.Run(context.Background())

	assert.Equal(t, outcome.Database, out.Category, "a failed notification never masks the original failure")
}
