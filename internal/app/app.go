// Package app wires configuration into a runnable backup application.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"sbak/internal/config"
	"sbak/internal/engine"
	"sbak/internal/history"
	"sbak/internal/index"
	"sbak/internal/transport"
)

// App is the application layer between the CLI and the engine.
// It constructs all dependencies from config, exposes the operations the
// commands call, and manages resource lifecycle on Close.
type App struct {
	cfg      *config.Config
	hist     *history.Store
	eng      *engine.Engine
	logger   engine.Logger
	logFile  *os.File
	disabled map[string]error
}

// NewApp creates a fully wired App from the given config. Extra
// reporters (the console renderer) receive pass events alongside the
// structured log. The caller must call Close when done.
func NewApp(cfg *config.Config, reporters ...engine.Reporter) (*App, error) {
	tag := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, tag)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	// An invalid host profile disables that host; the rest still run.
	valid, invalid := cfg.CheckHosts()
	if len(valid) == 0 {
		logFile.Close()
		return nil, fmt.Errorf("no usable hosts configured")
	}
	disabled := make(map[string]error, len(invalid))
	for _, he := range invalid {
		disabled[he.Name] = he.Err
		logger.Warn("host disabled by invalid configuration", "host", he.Name, "error", he.Err)
	}

	hist, err := history.NewStoreFromConfig(cfg.History)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating history store: %w", err)
	}

	hosts := make([]engine.Host, 0, len(valid))
	for _, hc := range valid {
		hosts = append(hosts, engine.Host{
			Name:    hc.Name,
			Roots:   hc.Roots,
			Exclude: cfg.HostExclude(hc),
		})
	}

	var rep engine.Reporter
	switch len(reporters) {
	case 0:
		rep = engine.NopReporter{}
	case 1:
		rep = reporters[0]
	default:
		rep = engine.MultiReporter(reporters)
	}

	eng := engine.New(hosts, transport.NewDialer(valid), index.NewStore(cfg.BackupRoot),
		engine.Options{
			BackupRoot:      cfg.BackupRoot,
			MaxVersions:     cfg.MaxVersions,
			DeleteRemoved:   cfg.DeleteRemoved,
			HostWorkers:     cfg.HostWorkers,
			TransferWorkers: cfg.TransferWorkers,
		},
		rep, logger, engine.RealClock{}, engine.UUIDGenerator{})

	return &App{
		cfg:      cfg,
		hist:     hist,
		eng:      eng,
		logger:   logger,
		logFile:  logFile,
		disabled: disabled,
	}, nil
}

// RunBackup executes one pass for the named hosts (all usable hosts
// when none are given) and records the outcome in the history
// database.
func (a *App) RunBackup(ctx context.Context, hosts ...string) (*engine.RunReport, error) {
	for _, name := range hosts {
		if err, ok := a.disabled[name]; ok {
			return nil, fmt.Errorf("host %s disabled by invalid configuration: %w", name, err)
		}
	}

	report, err := a.eng.Run(ctx, hosts...)
	if err != nil {
		return nil, err
	}

	// Record with a fresh context: an interrupted run still gets its
	// history row.
	if err := a.hist.RecordReport(context.Background(), report); err != nil {
		a.logger.Error("recording run history", "error", err)
	}
	return report, nil
}

// History returns recorded passes, newest first. A non-empty host
// narrows to that host; limit <= 0 returns everything.
func (a *App) History(ctx context.Context, host string, limit int) ([]history.Run, error) {
	return a.hist.ListRuns(ctx, host, limit)
}

// Logger exposes the run logger for components outside the engine.
func (a *App) Logger() engine.Logger { return a.logger }

// Close releases the history database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.hist.Close(); err != nil {
		firstErr = fmt.Errorf("closing history store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
