// cmd/up2dated/main.go - the up2date agent: keeps the download directory, installs deployments.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rtsoft/up2date/pkg/agent"
	"github.com/rtsoft/up2date/pkg/config"
	"github.com/rtsoft/up2date/pkg/deploy"
	"github.com/rtsoft/up2date/pkg/download"
	"github.com/rtsoft/up2date/pkg/logging"
	"github.com/rtsoft/up2date/pkg/metrics"
	"github.com/rtsoft/up2date/pkg/sysinfo"
	"github.com/rtsoft/up2date/pkg/version"
)

const (
	appName        = "up2dated"
	queueLimit     = 64
	shutdownPeriod = 10 * time.Second
)

func main() {
	configPath := pflag.String("config", config.DefaultConfigPath(), "Path to the YAML configuration file.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v info on console, -vv debug)")
	pflag.Parse()

	if *versionFlag {
		version.FprintFull(os.Stdout, appName)
		return
	}

	mgr, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Config()
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare directories: %v\n", err)
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	switch {
	case verbosity >= 2:
		level = logging.LevelDebug
	case verbosity == 1 && level < logging.LevelInfo:
		level = logging.LevelInfo
	}
	if err := logging.Init(logging.LoggerConfig{
		BaseDir:       cfg.LogPath,
		Component:     appName,
		Level:         level,
		Retention:     logging.DefaultRetentionPolicy(),
		EnableJSON:    cfg.JSONLogs,
		EnableYAML:    cfg.YAMLLogs,
		EnableConsole: cfg.LogConsole || verbosity > 0,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mgr); err != nil {
		logging.Error("Service failed", "error", err)
		logging.CloseLogger()
		os.Exit(1)
	}
}

func run(ctx context.Context, mgr *config.Manager) error {
	cfg := mgr.Config()
	v := version.Version()
	logging.Info("Starting service", "version", v.Version, "revision", v.Revision)

	a, err := agent.Build(ctx, mgr, agent.Options{Metrics: metrics.NewProm("up2date", nil)})
	if err != nil {
		return err
	}
	if a.Device.Available() {
		logging.Info("Device certificate loaded", "subject", a.Device.SubjectCN(), "issuer", a.Device.IssuerCN())
	} else {
		logging.Warn("No device certificate imported; the agent cannot authenticate to the update server", "path", cfg.DeviceCertificatePath)
	}
	logging.Info("Package registry ready", "packages", len(a.Registry.ListAvailablePackages(ctx)), "types", a.Selector.Extensions())

	sys := sysinfo.Retrieve(ctx)
	for _, attr := range sys.Attributes() {
		logging.Debug("Device attribute", "key", attr.Key, "value", attr.Value)
	}

	if cfg.MetricsAddress != "" {
		srv := serveMetrics(cfg.MetricsAddress)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownPeriod)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	handler := deploy.NewHandler(a.Registry, mgr.DownloadLocation, deploy.WithAllowedExtensions(mgr.AllowedExtensions))
	worker := deploy.NewWorker(handler, queueLimit)
	worker.Start(ctx)
	defer worker.Stop()

	inbox := &deploy.Inbox{
		Dir:        cfg.ActionsPath,
		Worker:     worker,
		Downloader: deploy.HTTPDownloader{Client: download.New()},
	}
	go inbox.Run(ctx)

	logging.Info("Service running", "actions", cfg.ActionsPath, "downloads", cfg.DownloadPath)
	<-ctx.Done()
	logging.Warn("Signal received, shutting down")
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logging.Info("Metrics server listening", "addr", addr)
	return srv
}
