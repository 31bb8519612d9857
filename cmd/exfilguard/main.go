// Command exfilguard guards the pages of a Chrome instance started with
// --remote-debugging-port against credential exfiltration to Telegram,
// and manages the alert history.
//
//	exfilguard [flags] run      guard pages until interrupted (default)
//	exfilguard [flags] alerts   print stored alerts as JSON lines
//	exfilguard [flags] clear    empty the alert history
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/supergoodsystems/exfilguard-go"
	"github.com/supergoodsystems/exfilguard-go/internal/browser"
	"github.com/supergoodsystems/exfilguard-go/internal/config"
	"github.com/supergoodsystems/exfilguard-go/internal/logger"
	"github.com/supergoodsystems/exfilguard-go/pkg/detect"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("reading %s: %v", envFile, err)
	}

	fs := pflag.NewFlagSet("exfilguard", pflag.ContinueOnError)
	config.Flags(fs)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: exfilguard [flags] [run|alerts|clear]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := fs.Arg(0)
	switch cmd {
	case "", "run":
		err = run(ctx, cfg)
	case "alerts":
		err = alerts(ctx, cfg)
	case "clear":
		err = clearAlerts(ctx, cfg)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func newService(cfg *config.Config, reg prometheus.Registerer) (*exfilguard.Service, error) {
	return exfilguard.New(&exfilguard.Options{
		WatchedHosts:                cfg.Hosts,
		Lexicon:                     detect.PageLexicon,
		AlertDSN:                    cfg.DB,
		AlertCap:                    cfg.AlertCap,
		DisableDefaultWrappedClient: true,
		LogLevel:                    cfg.LogLevel,
		LogFile:                     cfg.LogFile,
		Registerer:                  reg,
	})
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sg, err := newService(cfg, reg)
	if err != nil {
		return err
	}
	defer sg.Close()

	lcfg := logger.Config{Level: cfg.LogLevel}
	if cfg.LogFile != "" {
		lcfg.Writers = []string{"console", "file"}
		lcfg.File = cfg.LogFile
	}
	lg, err := logger.New(lcfg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Err(err, "metrics server stopped", "addr", cfg.MetricsAddr)
			}
		}()
		defer srv.Close()
		lg.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	g, err := browser.New(browser.Options{
		DevToolsURL:    cfg.DevTools,
		TargetID:       cfg.Target,
		Engine:         sg.Engine,
		Logger:         lg,
		DisableOverlay: cfg.NoOverlay,
	})
	if err != nil {
		return err
	}
	lg.Info("exfilguard started", "devtools", cfg.DevTools, "hosts", sg.Engine.Hosts().Hosts(), "db", cfg.DB)
	return g.Run(ctx)
}

func alerts(ctx context.Context, cfg *config.Config) error {
	sg, err := newService(cfg, nil)
	if err != nil {
		return err
	}
	defer sg.Close()

	list, err := sg.Alerts(ctx, cfg.Limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, a := range list {
		if err := enc.Encode(a); err != nil {
			return err
		}
	}
	return nil
}

func clearAlerts(ctx context.Context, cfg *config.Config) error {
	sg, err := newService(cfg, nil)
	if err != nil {
		return err
	}
	defer sg.Close()
	return sg.ClearAlerts(ctx)
}
