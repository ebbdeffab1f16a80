// DotAgent - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/dotmemory/pkg/bootstrap"
	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotmemory"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	err := executeCLI()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotmemory", "config.json")
}

func defaultUserID() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "default"
}

// globalOptions carries the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	userID     string
	sessionID  string
	debug      bool
}

func (o *globalOptions) resolvedConfigPath() string {
	if strings.TrimSpace(o.configPath) != "" {
		return o.configPath
	}
	return defaultConfigPath()
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	bootstrap.ApplyLogging(cfg)
	return cfg, nil
}

// openRuntime loads config and builds the memory service for the selected
// user and session. Callers must Close the returned service.
func (o *globalOptions) openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, o.userID, o.sessionID)
}
