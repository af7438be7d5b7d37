package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/overturehq/overture-cli/internal/app"
	"github.com/overturehq/overture-cli/internal/config"
	"github.com/overturehq/overture-cli/internal/history"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "login":
		loginCmd(os.Args[2:])
	case "threads":
		threadsCmd(os.Args[2:])
	case "version":
		fmt.Printf("overture-cli %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `overture-cli

Usage:
  overture-cli run [flags]
  overture-cli login [flags]
  overture-cli threads [flags]
  overture-cli version

Commands:
  login      Store backend credentials locally.
  run        Connect to the backend and run the client.
  threads    List locally saved threads.
  version    Print build information.

`)
}

func loginCmd(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	accessToken := fs.String("access-token", "", "Access token (Bearer)")
	refreshToken := fs.String("refresh-token", "", "Refresh token")
	expiresAt := fs.Int64("expires-at", 0, "Token expiry as unix seconds (0: unknown, treated as expired)")
	userID := fs.String("user-id", "", "User id the token belongs to")
	credsPath := fs.String("credentials", config.DefaultCredentialsPath(), "Credentials file path")
	_ = fs.Parse(args)

	if *accessToken == "" {
		fs.Usage()
		os.Exit(2)
	}

	creds := config.Credentials{
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		ExpiresAt:    *expiresAt,
		UserID:       *userID,
	}
	if err := config.SaveCredentials(filepath.Clean(*credsPath), creds); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save credentials: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Credentials written: %s\n", filepath.Clean(*credsPath))
}

func threadsCmd(args []string) {
	fs := flag.NewFlagSet("threads", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 50, "Max threads to list")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = history.DefaultPath()
	}
	store, err := history.Open(historyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	threads, err := store.ListThreads(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list threads: %v\n", err)
		os.Exit(1)
	}
	if len(threads) == 0 {
		fmt.Println("No saved threads.")
		return
	}
	for _, t := range threads {
		updated := time.UnixMilli(t.UpdatedAtUnixMs).Format("2006-01-02 15:04")
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-12s  %s\n", updated, t.Type, title)
	}
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(app.Options{
		Config:    cfg,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init client: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "client exited with error: %v\n", err)
		os.Exit(1)
	}
}
