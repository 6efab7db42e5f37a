package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
	"github.com/smarthomesven/duuxbridge/internal/config"
	"github.com/smarthomesven/duuxbridge/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "login":
		loginCmd(ctx, os.Args[2:])
	case "logout":
		logoutCmd(ctx)
	case "whoami":
		whoamiCmd()
	case "tenants":
		tenantsCmd(ctx)
	case "devices":
		devicesCmd(ctx, os.Args[2:])
	case "pair":
		pairCmd(ctx, os.Args[2:])
	case "unpair":
		unpairCmd(ctx, os.Args[2:])
	case "list":
		listCmd(ctx)
	default:
		usage()
		os.Exit(2)
	}
}

// loadConfig reads the daemon config so the CLI shares its state file and
// device registry. Falls back to built-in defaults when no file exists.
func loadConfig() *config.Config {
	for _, path := range configSearchPaths() {
		cfg, err := config.Load(path)
		if err == nil {
			return cfg
		}
		// A present but broken config should not be silently skipped.
		if !errors.Is(err, os.ErrNotExist) {
			fatal("load config", err)
		}
	}
	return &config.Config{
		SchemaVersion: config.SchemaVersion,
		Core: config.CoreConfig{
			CloudBaseURL:        cloudgarden.DefaultBaseURL,
			PollIntervalSeconds: config.DefaultPollIntervalSeconds,
			StatePath:           config.DefaultStatePath,
			RegistryPath:        config.DefaultRegistryPath,
		},
	}
}

func configSearchPaths() []string {
	if path := os.Getenv("DUUXBRIDGE_CONFIG"); path != "" {
		return []string{path}
	}
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "duuxbridge", "config.yaml"))
	}
	return paths
}

func openSession(cfg *config.Config) *session.Session {
	var blob session.BlobStore
	if cfg.Blob != nil {
		store, err := session.NewS3Store(*cfg.Blob)
		if err != nil {
			fatal("init blob store", err)
		}
		blob = store
	}
	sess, err := session.New(cfg.Core.StatePath, blob, zerolog.New(os.Stderr))
	if err != nil {
		fatal("restore session", err)
	}
	return sess
}

func usage() {
	fmt.Println("duuxbridge-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  login --email <address>")
	fmt.Println("  logout")
	fmt.Println("  whoami")
	fmt.Println("  tenants")
	fmt.Println("  devices [--tenant <id>]")
	fmt.Println("  pair --id <name> --mac <mac> --tenant <id> [--model <model>] [--name <label>]")
	fmt.Println("  unpair --id <name>")
	fmt.Println("  list")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
