// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The statusprobe binary periodically checks the availability of configured
// HTTP services and publishes the outcomes as a JSON snapshot, a CSV history
// and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/config"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/history"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/logging"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/metrics"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/monitor"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/probe"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/snapshot"
)

// watchDebounce coalesces bursts of file events (editors tend to produce
// several per save) into a single reload.
const watchDebounce = 500 * time.Millisecond

type mainOptions struct {
	ConfigFile    string
	ListenAddress string
	GracePeriod   time.Duration
	Watch         bool
}

func (opts *mainOptions) setupFlags(a *kingpin.Application) {
	a.Flag("config.file", "Path of the service configuration file.").
		Default(opts.ConfigFile).StringVar(&opts.ConfigFile)
	a.Flag("web.listen-address", "Address on which to expose metrics and the admin endpoints.").
		Default(opts.ListenAddress).StringVar(&opts.ListenAddress)
	a.Flag("shutdown.grace-period", "How long shutdown waits for in-flight checks before aborting them.").
		Default(opts.GracePeriod.String()).DurationVar(&opts.GracePeriod)
	a.Flag("watch", "Reload the configuration automatically when the file changes.").
		BoolVar(&opts.Watch)
}

func main() {
	logger := logging.FromEnv("statusprobe", os.Stdout)

	a := kingpin.New("statusprobe", "The statusprobe service availability monitor")
	a.Version(version.Print("statusprobe"))
	a.HelpFlag.Short('h')

	opts := mainOptions{
		ConfigFile:    "config.yaml",
		ListenAddress: ":9090",
		GracePeriod:   monitor.DefaultGracePeriod,
	}
	opts.setupFlags(a)

	cmdRun := a.Command("run", "Run periodic checks against the configured services.").Default()
	cmdValidate := a.Command("validate", "Validate the configuration file and exit.")
	cmdSnapshot := a.Command("snapshot", "Write a status snapshot seeded from recorded history and exit.")

	cmd, err := a.Parse(os.Args[1:])
	if err != nil {
		_ = level.Error(logger).Log("msg", "Error parsing commandline arguments", "err", err)
		a.Usage(os.Args[1:])
		os.Exit(2)
	}

	switch cmd {
	case cmdValidate.FullCommand():
		os.Exit(runValidate(logger, opts.ConfigFile))
	case cmdSnapshot.FullCommand():
		os.Exit(runSnapshot(logger, opts.ConfigFile))
	case cmdRun.FullCommand():
		os.Exit(runMonitor(logger, opts))
	}
}

// runValidate lints the configuration, listing violations on stderr.
func runValidate(logger log.Logger, configFile string) int {
	if !config.Lint(configFile, os.Stderr) {
		return 1
	}
	_ = level.Info(logger).Log("msg", "configuration valid", "path", configFile)
	return 0
}

// runSnapshot folds the last recorded history entry of every configured
// service into a one-shot snapshot. Services without history stay PENDING;
// a missing history file yields an all-PENDING snapshot.
func runSnapshot(logger log.Logger, configFile string) int {
	cfg, err := loadConfig(logger, configFile)
	if err != nil {
		return 1
	}

	records, corrupt, err := history.ReadRecords(cfg.Settings.GetHistoryFile())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = level.Error(logger).Log("msg", "reading history failed", "err", err)
		return 1
	}
	for _, c := range corrupt {
		_ = level.Warn(logger).Log("msg", "skipping corrupt history record", "position", c.Position, "err", c.Err)
	}

	publisher := snapshot.NewPublisher(cfg.Settings.GetOutputDir(), logger)
	if err := publisher.Write(monitor.SeedRecords(cfg, records)); err != nil {
		_ = level.Error(logger).Log("msg", "writing snapshot failed", "err", err)
		return 1
	}
	_ = level.Info(logger).Log("msg", "snapshot written", "path", publisher.Path(), "services", len(cfg.Pings))
	return 0
}

func runMonitor(logger log.Logger, opts mainOptions) int {
	cfg, err := loadConfig(logger, opts.ConfigFile)
	if err != nil {
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		versioncollector.NewCollector("statusprobe"),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	prober := probe.New(probe.Options{}, logger)
	runner := probe.NewRunner(prober, cfg.Settings.GetMaxRetries(), logger, met.ObserveAttemptError)

	var ready atomic.Bool
	mon := monitor.New(cfg, runner, met, logger, monitor.Options{
		GracePeriod: opts.GracePeriod,
		OnReady:     func() { ready.Store(true) },
	})

	// The watcher observes the directory, not the file: editors and configmap
	// mounts replace files by rename, which would silently detach a watch on
	// the file itself.
	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if opts.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			_ = level.Error(logger).Log("msg", "creating config watcher failed", "err", err)
			return 1
		}
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(opts.ConfigFile)); err != nil {
			_ = level.Error(logger).Log("msg", "watching config directory failed", "err", err)
			return 1
		}
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	var g run.Group
	{
		// Termination handler.
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				select {
				case <-term:
					_ = level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
				case <-cancel:
				}
				return nil
			},
			func(error) {
				close(cancel)
			},
		)
	}
	{
		// Monitor.
		ctxMonitor, cancelMonitor := context.WithCancel(context.Background())
		g.Add(func() error {
			return mon.Run(ctxMonitor)
		}, func(error) {
			cancelMonitor()
		})
	}
	reloadCh := make(chan chan error)
	{
		// Web server.
		server := &http.Server{Addr: opts.ListenAddress}

		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		http.HandleFunc("/-/reload", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				rc := make(chan error)
				reloadCh <- rc
				if err := <-rc; err != nil {
					http.Error(w, fmt.Sprintf("Failed to reload config: %s", err), http.StatusInternalServerError)
				}
			} else {
				http.Error(w, "Only POST requests allowed.", http.StatusMethodNotAllowed)
			}
		})
		http.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		http.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
			if !ready.Load() {
				http.Error(w, "statusprobe is not ready: initial snapshot pending.", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "statusprobe is Ready.\n")
		})

		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "Starting web server", "listen", opts.ListenAddress)
			return server.ListenAndServe()
		}, func(error) {
			ctxServer, cancelServer := context.WithTimeout(context.Background(), time.Minute)
			if err := server.Shutdown(ctxServer); err != nil {
				_ = level.Error(logger).Log("msg", "Server failed to shut down gracefully.")
			}
			cancelServer()
		})
	}
	{
		// Reload handler.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		cancel := make(chan struct{})

		reload := func() error {
			cfg, err := config.LoadFile(opts.ConfigFile)
			if err != nil {
				return err
			}
			mon.ApplyConfig(cfg)
			return nil
		}

		watchTarget := filepath.Clean(opts.ConfigFile)
		g.Add(
			func() error {
				debounce := time.NewTimer(watchDebounce)
				if !debounce.Stop() {
					<-debounce.C
				}
				for {
					select {
					case <-hup:
						if err := reload(); err != nil {
							_ = level.Error(logger).Log("msg", "Error reloading config", "err", err)
						}
					case rc := <-reloadCh:
						if err := reload(); err != nil {
							_ = level.Error(logger).Log("msg", "Error reloading config", "err", err)
							rc <- err
						} else {
							rc <- nil
						}
					case ev := <-watchEvents:
						if filepath.Clean(ev.Name) != watchTarget || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
							continue
						}
						if !debounce.Stop() {
							select {
							case <-debounce.C:
							default:
							}
						}
						debounce.Reset(watchDebounce)
					case err := <-watchErrors:
						_ = level.Error(logger).Log("msg", "Config watcher error", "err", err)
					case <-debounce.C:
						_ = level.Info(logger).Log("msg", "config file changed on disk, reloading")
						if err := reload(); err != nil {
							_ = level.Error(logger).Log("msg", "Error reloading config", "err", err)
						}
					case <-cancel:
						return nil
					}
				}
			},
			func(error) {
				// Wait for any in-progress reloads to complete to avoid
				// reloading things after they have been shutdown.
				cancel <- struct{}{}
			},
		)
	}

	if err := g.Run(); err != nil {
		_ = level.Error(logger).Log("msg", "Running statusprobe failed", "err", err)
		return 1
	}
	return 0
}

// loadConfig reads and validates the configuration, listing violations on
// stderr before reporting the failure.
func loadConfig(logger log.Logger, path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, v := range verr.Violations {
				fmt.Fprintln(os.Stderr, v)
			}
		}
		_ = level.Error(logger).Log("msg", "loading configuration failed", "err", err)
		return nil, err
	}
	return cfg, nil
}
