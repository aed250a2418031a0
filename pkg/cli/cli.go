// Package cli is the invocation surface of the change report job. It parses
// flags (with CHANGEREPORT_* environment fallbacks), runs one report cycle
// and maps the outcome onto the exit-code contract with the scheduler.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/change-report/pkg/logging"
	"github.com/telekom/change-report/pkg/outcome"
	"github.com/telekom/change-report/pkg/runner"
)

const defaultConfigPath = "./config/config.json"

// ExitError carries the process exit code out of cobra's Execute.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type runtimeState struct {
	configPath string
	dateStr    string
	testMode   bool
	force      bool
	stateDir   string
	debug      bool
}

// NewRootCommand builds the changereport command tree.
func NewRootCommand() *cobra.Command {
	rt := &runtimeState{}

	root := &cobra.Command{
		Use:           "changereport",
		Short:         "Daily Critical/High change report mailer",
		Long:          "Queries the change-management store for Critical and High priority changes on the report date, renders an HTML report and delivers it over SMTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.configPath == "" {
				rt.configPath = getEnvString("CHANGEREPORT_CONFIG", defaultConfigPath)
			}
			if rt.stateDir == "" {
				rt.stateDir = os.Getenv("CHANGEREPORT_STATE_DIR")
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(os.Getenv("CHANGEREPORT_DEBUG"), "true")
			}

			day := time.Now()
			if rt.dateStr != "" {
				parsed, err := time.ParseInLocation("2006-01-02", rt.dateStr, time.Local)
				if err != nil {
					return &ExitError{Code: outcome.Configuration.ExitCode(), Err: fmt.Errorf("invalid --date %q, expected yyyy-MM-dd: %w", rt.dateStr, err)}
				}
				day = parsed
			}

			zl := logging.NewConsoleLogger(rt.debug)
			defer func() { _ = zl.Sync() }()

			r := runner.New(runner.Options{
				ConfigPath: rt.configPath,
				ReportDate: day,
				TestMode:   rt.testMode,
				Force:      rt.force,
				StateDir:   rt.stateDir,
				Debug:      rt.debug,
			}, zl.Sugar())

			out := r.Run(cmd.Context())
			if out.Success {
				return nil
			}
			return &ExitError{Code: out.ExitCode(), Err: out.Err}
		},
	}

	root.Flags().StringVar(&rt.configPath, "config", "", "Path to config.json (default "+defaultConfigPath+")")
	root.Flags().StringVar(&rt.dateStr, "date", "", "Report date as yyyy-MM-dd (default today)")
	root.Flags().BoolVar(&rt.testMode, "test-mode", false, "Render the report and persist it to the log directory instead of sending mail")
	root.Flags().BoolVar(&rt.force, "force", false, "Bypass the recent-execution guard")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug level logging")
	root.Flags().StringVar(&rt.stateDir, "state-dir", "", "Directory for the single-instance lease (default system temp)")

	root.AddCommand(
		NewVersionCommand(),
		NewCredentialCommand(),
	)

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// getEnvString returns the value of an environment variable, or the provided
// default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}
