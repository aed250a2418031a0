// Package guard prevents two report cycles for the same calendar date from
// overlapping. It is a local liveness guard, not a distributed lock: the
// lease is a small JSON file keyed by date, created with O_EXCL to narrow
// the window in which two processes can both pass the check. Two processes
// starting within the same sub-second window can still both proceed; with a
// daily cadence that residual race is accepted.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/change-report/pkg/outcome"
)

// DefaultWindow is how long a lease blocks a repeat run for the same date.
const DefaultWindow = time.Hour

// lease records the last invocation for one report date. It persists after a
// successful run on purpose: the window applies to completed runs too.
type lease struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	RunID     string    `json:"runID"`
}

// Guard acquires per-date leases in a state directory.
type Guard struct {
	dir    string
	window time.Duration
	clock  func() time.Time
	log    *zap.SugaredLogger
}

// New builds a guard over dir. An empty dir falls back to the system temp
// directory so the guard works before any configuration is loaded.
func New(dir string, log *zap.SugaredLogger) *Guard {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "changereport")
	}
	return &Guard{dir: dir, window: DefaultWindow, clock: time.Now, log: log.Named("guard")}
}

// Acquire takes the lease for the report date. A live lease younger than the
// window fails with AlreadyRunning unless force is set; a stale or unreadable
// lease is refreshed.
func (g *Guard) Acquire(day time.Time, runID string, force bool) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return outcome.Wrap(outcome.General, fmt.Errorf("creating guard directory %s: %w", g.dir, err))
	}
	path := g.path(day)

	if force {
		g.log.Infow("Guard bypassed by force flag", "lease", path)
		return g.refresh(path, runID)
	}

	content, err := json.Marshal(lease{PID: os.Getpid(), StartedAt: g.clock(), RunID: runID})
	if err != nil {
		return outcome.Wrap(outcome.General, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := f.Write(content)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return outcome.Wrap(outcome.General, fmt.Errorf("writing lease %s: %w", path, werr))
		}
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return outcome.Wrap(outcome.General, fmt.Errorf("creating lease %s: %w", path, err))
	}

	prev, readErr := g.read(path)
	if readErr == nil {
		age := g.clock().Sub(prev.StartedAt)
		if age < g.window {
			return outcome.Errorf(outcome.AlreadyRunning,
				"report for %s already ran %s ago (pid %d, run %s); re-run with --force to override",
				day.Format("2006-01-02"), age.Round(time.Second), prev.PID, prev.RunID)
		}
		g.log.Infow("Stale lease refreshed", "lease", path, "age", age.Round(time.Second))
	} else {
		g.log.Warnw("Unreadable lease refreshed", "lease", path, "error", readErr)
	}
	return g.refresh(path, runID)
}

func (g *Guard) path(day time.Time) string {
	return filepath.Join(g.dir, fmt.Sprintf("changereport-%s.lock", day.Format("2006-01-02")))
}

func (g *Guard) read(path string) (lease, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return lease{}, err
	}
	var l lease
	if err := json.Unmarshal(content, &l); err != nil {
		return lease{}, err
	}
	return l, nil
}

// refresh replaces the lease atomically (temp file plus rename) so a reader
// never observes a half-written lease.
func (g *Guard) refresh(path, runID string) error {
	content, err := json.Marshal(lease{PID: os.Getpid(), StartedAt: g.clock(), RunID: runID})
	if err != nil {
		return outcome.Wrap(outcome.General, err)
	}
	tmp, err := os.CreateTemp(g.dir, ".lease-*")
	if err != nil {
		return outcome.Wrap(outcome.General, fmt.Errorf("refreshing lease %s: %w", path, err))
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(content)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return outcome.Wrap(outcome.General, fmt.Errorf("refreshing lease %s: %w", path, werr))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return outcome.Wrap(outcome.General, fmt.Errorf("refreshing lease %s: %w", path, err))
	}
	return nil
}
