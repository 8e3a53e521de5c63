// Package main serves a directory of static files over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/f4ah6o/siteserve-go/internal/config"
	"github.com/f4ah6o/siteserve-go/internal/resolver"
	"github.com/f4ah6o/siteserve-go/internal/router"
	"github.com/f4ah6o/siteserve-go/internal/server"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flagValues holds the raw command-line values; only flags the user set
// explicitly override the other configuration sources.
type flagValues struct {
	configPath      string
	envFile         string
	root            string
	indexFile       string
	addr            string
	debug           bool
	shutdownTimeout time.Duration
	noColor         bool
}

func newFlagSet(fv *flagValues, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("siteserve", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&fv.configPath, "config", "", "Path to a .toml or .yaml config file")
	fs.StringVar(&fv.envFile, "env-file", ".env", "Dotenv file with SITESERVE_* variables (ignored if missing)")
	fs.StringVar(&fv.root, "dir", config.DefaultRoot, "Directory to serve")
	fs.StringVar(&fv.indexFile, "index", config.DefaultIndexFile, "File served for /")
	fs.StringVar(&fv.addr, "addr", config.DefaultAddr, "Address to listen on (host:port)")
	fs.BoolVar(&fv.debug, "debug", false, "Log every request")
	fs.DurationVar(&fv.shutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout, "Time to wait for open requests on shutdown")
	fs.BoolVar(&fv.noColor, "no-color", false, "Disable colored output")
	return fs
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var fv flagValues
	fs := newFlagSet(&fv, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return exitUsage
	}
	if fv.noColor {
		color.NoColor = true
	}

	errorf := color.New(color.FgRed, color.Bold).FprintfFunc()

	cfg, err := loadConfig(fs, fv)
	if err != nil {
		errorf(stderr, "Error: %v\n", err)
		return exitError
	}

	res, err := resolver.New(cfg.Root)
	if err != nil {
		errorf(stderr, "Error: %v\n", err)
		return exitError
	}

	srv, err := server.Listen(cfg.Addr, router.New(cfg, res), cfg.ShutdownTimeout)
	if err != nil {
		errorf(stderr, "Error: %v\n", err)
		return exitError
	}

	printBanner(stdout, cfg, srv)
	if cfg.ExposesWorkingDir() {
		color.New(color.FgYellow).Fprintf(stderr,
			"Warning: %s contains the working directory; every file in it is public\n", cfg.Root)
	}

	if err := srv.Run(ctx); err != nil {
		errorf(stderr, "Error: %v\n", err)
		return exitError
	}
	fmt.Fprintln(stdout, "Server stopped")
	return exitOK
}

// loadConfig layers defaults, the config file, the environment and the flags
// the user set, then validates the result.
func loadConfig(fs *flag.FlagSet, fv flagValues) (config.Config, error) {
	cfg := config.Default()
	var err error

	if fv.configPath != "" {
		if cfg, err = config.LoadFile(cfg, fv.configPath); err != nil {
			return cfg, err
		}
	}
	if err := config.LoadDotenv(fv.envFile); err != nil {
		return cfg, err
	}
	if cfg, err = config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.Root = fv.root
		case "index":
			cfg.IndexFile = fv.indexFile
		case "addr":
			cfg.Addr = fv.addr
		case "debug":
			cfg.Debug = fv.debug
		case "shutdown-timeout":
			cfg.ShutdownTimeout = fv.shutdownTimeout
		}
	})

	return cfg.Validate()
}

func printBanner(w io.Writer, cfg config.Config, srv *server.Server) {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "🌐 Serving %s at %s\n", cfg.Root, green("http://"+srv.Addr().String()))
	fmt.Fprintf(w, "   Index file: %s\n", cfg.IndexFile)
	if cfg.Debug {
		fmt.Fprintln(w, "   Debug mode: on")
	}
	fmt.Fprintln(w, "Press Ctrl+C to stop")
}
