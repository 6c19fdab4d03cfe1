package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/openpgp-codec/internal/audit"
	"github.com/kenneth/openpgp-codec/internal/keyfile"
	"github.com/kenneth/openpgp-codec/internal/metrics"
	"github.com/kenneth/openpgp-codec/internal/openpgp"
)

func newWatchCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and transform new files as they appear",
		Long: `watch monitors the configured input directory and encodes (or
decodes) every file dropped into it, writing results to the output
directory. The session key file is watched too; rotated keys are picked
up without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "encrypt" && mode != "decrypt" {
				return fmt.Errorf("invalid mode %q (want encrypt or decrypt)", mode)
			}
			return runWatch(mode)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "encrypt", "Transformation to apply (encrypt or decrypt)")
	return cmd
}

// watcher processes files dropped into the input directory.
type watcher struct {
	mode     string
	cfg      watchPaths
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	auditLog audit.Logger

	mu       sync.RWMutex
	template openpgp.SessionKey // key slice swapped on rotation
}

type watchPaths struct {
	inputDir  string
	outputDir string
	suffix    string
}

func runWatch(mode string) error {
	if cfg.Watch.InputDir == "" || cfg.Watch.OutputDir == "" {
		return fmt.Errorf("watch requires watch.input_dir and watch.output_dir")
	}

	sk, err := newSessionKey()
	if err != nil {
		return err
	}
	defer sk.Wipe()

	auditLog, closeAudit, err := newAuditLogger()
	if err != nil {
		return err
	}
	defer closeAudit()

	m := codecMetrics()
	m.StartSystemMetricsCollector()

	w := &watcher{
		mode: mode,
		cfg: watchPaths{
			inputDir:  cfg.Watch.InputDir,
			outputDir: cfg.Watch.OutputDir,
			suffix:    cfg.Watch.Suffix,
		},
		logger:   logger,
		metrics:  m,
		auditLog: auditLog,
		template: *sk,
	}

	// Hot key rotation
	reloader, err := keyfile.NewReloader(cfg.Codec.KeyFile, logger)
	if err != nil {
		return err
	}
	defer reloader.Stop()
	reloader.SetOnReloadCallback(func(old, new []byte) error {
		candidate := openpgp.SessionKey{Algo: w.template.Algo, Key: new}
		if err := candidate.Validate(); err != nil {
			return err
		}
		w.mu.Lock()
		prev := w.template.Key
		w.template.Key = append([]byte(nil), new...)
		w.mu.Unlock()
		for i := range prev {
			prev[i] = 0
		}
		return nil
	})
	go reloader.Start()

	// Metrics endpoint
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		router := http.NewServeMux()
		router.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.WithField("addr", cfg.Metrics.ListenAddr).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create directory watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(cfg.Watch.InputDir); err != nil {
		return fmt.Errorf("failed to watch input directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"mode":       mode,
		"input_dir":  cfg.Watch.InputDir,
		"output_dir": cfg.Watch.OutputDir,
	}).Info("Watching for files")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleEvent(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Directory watcher error")
		case <-quit:
			logger.Info("Shutting down...")
			if metricsServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := metricsServer.Shutdown(ctx); err != nil {
					logger.WithError(err).Error("Metrics server forced to shutdown")
				}
			}
			return nil
		}
	}
}

// handleEvent decides whether the changed path is a candidate and
// processes it.
func (w *watcher) handleEvent(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}
	if w.mode == "decrypt" && w.cfg.suffix != "" && !strings.HasSuffix(name, w.cfg.suffix) {
		return
	}

	// Writers may still be flushing; give the file a moment to settle.
	time.Sleep(100 * time.Millisecond)

	w.metrics.RecordWatchedFile()
	if err := w.process(path); err != nil {
		w.logger.WithError(err).WithField("file", path).Error("Failed to process file")
		return
	}
	w.logger.WithField("file", path).Info("Processed file")
}

func (w *watcher) process(path string) error {
	w.mu.RLock()
	sk := openpgp.SessionKey{
		Algo:    w.template.Algo,
		Key:     append([]byte(nil), w.template.Key...),
		UseMDC:  w.template.UseMDC,
		RFC1991: w.template.RFC1991,
	}
	w.mu.RUnlock()
	defer sk.Wipe()

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", openpgp.ErrFile, err)
	}
	defer in.Close()

	outPath := w.outputPath(path)
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("%w: %v", openpgp.ErrFile, err)
	}
	defer out.Close()

	op := openpgp.OpWrite
	if w.mode == "decrypt" {
		op = openpgp.OpRead
	}
	if err := runFilter(op, &sk, in, out, w.metrics, w.auditLog, path); err != nil {
		os.Remove(outPath)
		return err
	}
	return nil
}

// outputPath maps an input file name to its destination. Encrypting
// appends the suffix; decrypting strips it.
func (w *watcher) outputPath(path string) string {
	name := filepath.Base(path)
	if w.mode == "encrypt" {
		return filepath.Join(w.cfg.outputDir, name+w.cfg.suffix)
	}
	stripped := strings.TrimSuffix(name, w.cfg.suffix)
	if stripped == name || stripped == "" {
		stripped = name + ".out"
	}
	return filepath.Join(w.cfg.outputDir, stripped)
}
