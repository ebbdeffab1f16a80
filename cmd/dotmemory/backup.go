package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const (
	backupFilePrefix = "dotmemory-"
	backupTimeLayout = "20060102T150405.000Z"
)

func newBackupCommand(opts *globalOptions) *cobra.Command {
	var (
		dir         string
		expr        string
		once        bool
		keep        int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write timestamped exports on a cron schedule",
		Long: strings.TrimSpace(`Export both buckets of the selected user and session into --dir.

With --once a single export is written. Otherwise exports run on the --cron
schedule until interrupted, and /metrics is served on --metrics-addr (or
metrics.listen_addr) while the loop runs.`),
		Example: strings.Join([]string{
			"  dotmemory backup --dir ~/backups --once",
			"  dotmemory backup --dir ~/backups --cron '0 */6 * * *' --keep 20 --metrics-addr :9090",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(dir) == "" {
				return fmt.Errorf("--dir is required")
			}
			if !once && strings.TrimSpace(expr) == "" {
				return fmt.Errorf("either --once or --cron must be provided")
			}
			next, err := cronNext(expr)
			if !once && err != nil {
				return err
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Service.Close()

			job := &backupJob{dir: dir, keep: keep, label: opts.userID, svc: rt.Service}
			if once {
				path, err := job.run(time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
				return nil
			}

			if metricsAddr == "" {
				metricsAddr = rt.Config.Metrics.ListenAddr
			}
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, rt.Metrics.Handler())
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backing up to %s on schedule %q (Ctrl+C to stop)\n", dir, expr)
			return runBackupSchedule(ctx, next, func(at time.Time) error {
				_, err := job.run(at)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory receiving export files")
	cmd.Flags().StringVarP(&expr, "cron", "c", "", "Cron expression (e.g. '0 3 * * *')")
	cmd.Flags().BoolVar(&once, "once", false, "Write one export and exit")
	cmd.Flags().IntVar(&keep, "keep", 0, "Keep only the newest N exports (0 keeps all)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while scheduling")
	return cmd
}

// cronNext validates expr and returns the next-fire function for it.
func cronNext(expr string) (func(time.Time) (time.Time, error), error) {
	expr = strings.TrimSpace(expr)
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return func(ref time.Time) (time.Time, error) {
		return gronx.NextTickAfter(expr, ref, false)
	}, nil
}

// runBackupSchedule fires job at every tick produced by next until ctx is
// done. Job failures are logged and the schedule continues.
func runBackupSchedule(ctx context.Context, next func(time.Time) (time.Time, error), job func(time.Time) error) error {
	for {
		at, err := next(time.Now())
		if err != nil {
			return fmt.Errorf("compute next backup: %w", err)
		}
		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := job(at); err != nil {
			logger.ErrorCF("backup", "Backup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

type backupJob struct {
	dir   string
	keep  int
	label string
	svc   *memory.Service
}

func (b *backupJob) run(at time.Time) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	exp := b.svc.ExportMemories()
	path := filepath.Join(b.dir, backupFileName(b.label, at))
	if err := writeExportFile(path, exp); err != nil {
		return "", err
	}
	logger.InfoCF("backup", "Backup written", map[string]interface{}{
		"path":             path,
		"user_memories":    len(exp.UserMemories),
		"session_memories": len(exp.SessionMemories),
	})
	if b.keep > 0 {
		if err := pruneBackups(b.dir, b.label, b.keep); err != nil {
			logger.WarnCF("backup", "Backup pruning failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return path, nil
}

func backupFileName(label string, at time.Time) string {
	return backupFilePrefix + url.PathEscape(label) + "-" + at.UTC().Format(backupTimeLayout) + ".json"
}

// pruneBackups removes all but the newest keep exports for label. Names sort
// chronologically because the timestamp is fixed width.
func pruneBackups(dir, label string, keep int) error {
	prefix := backupFilePrefix + url.PathEscape(label) + "-"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		// Exports of "alice-1" share the "alice-" prefix; only an exact
		// timestamp may follow it.
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), prefix), ".json")
		if _, err := time.Parse(backupTimeLayout, stamp); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= keep {
		return nil
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func serveMetrics(addr string, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.InfoCF("backup", "Metrics server listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("backup", "Metrics server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return srv
}
