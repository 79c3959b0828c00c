package cli

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/storage"
	"conduit/pkg/logger"
)

// CLIContext carries what every command needs.
type CLIContext struct {
	Config      *config.Config
	ConfigPath  string
	Logger      *zerolog.Logger
	StoragePath string
	ServerURL   string
	Verbose     bool
	Quiet       bool

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, storagePath string, flags GlobalFlags) *CLIContext {
	url := flags.ServerURL
	if url == "" {
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		url = fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
	}
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		Logger:      log,
		StoragePath: storagePath,
		ServerURL:   strings.TrimRight(url, "/"),
		Verbose:     flags.Verbose,
		Quiet:       flags.Quiet,
	}
}

// GetStorage opens the database on first use.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		if c.Config != nil && c.Config.Storage.Driver == "memory" {
			c.storageErr = errors.New("storage driver is memory; nothing is persisted")
			return
		}
		c.storage, c.storageErr = storage.Open(c.StoragePath)
	})
	return c.storage, c.storageErr
}

// Client returns an API client for the running server.
func (c *CLIContext) Client() *APIClient {
	version := ""
	if c.Config != nil {
		version = c.Config.Protocol.Version
	}
	return NewAPIClient(c.ServerURL, version)
}

// Close releases resources.
func (c *CLIContext) Close() error {
	if c.storage != nil {
		return c.storage.Close()
	}
	return nil
}

// Log returns the logger.
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}

func mustContext(cmd *cobra.Command) (*CLIContext, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, errors.New("CLI context not initialized")
	}
	return cliCtx, nil
}
