package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/policy"
	"conduit/internal/storage"
)

// InitOptions are the init command options.
type InitOptions struct {
	Force bool
	Dir   string
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize conduit configuration",
		Long:  "Create the conduit directory with a default config, an empty policy and the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunInit(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory to initialize (default ~/.conduit)")

	return cmd
}

// RunInit writes the default files.
func RunInit(cmd *cobra.Command, opts *InitOptions) error {
	configDir := opts.Dir
	if configDir == "" {
		var err error
		if configDir, err = config.DefaultConfigDir(); err != nil {
			return fmt.Errorf("get config dir: %w", err)
		}
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	for _, dir := range []string{configDir, filepath.Join(configDir, "logs"), filepath.Join(configDir, "hooks")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	cfg := defaultConfig(cmd)
	policyPath := filepath.Join(configDir, "policy.yaml")
	dataPath := filepath.Join(configDir, "data.db")
	cfg.Policy.Path = policyPath
	cfg.Storage.Path = dataPath

	if err := config.SaveTo(cfg, configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if _, err := os.Stat(policyPath); err != nil || opts.Force {
		if err := policy.Save(policy.DefaultPolicy(), policyPath); err != nil {
			return fmt.Errorf("write policy: %w", err)
		}
	}

	db, err := storage.Open(dataPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	db.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized conduit at %s\n", configDir)
	fmt.Fprintf(out, "  Config:   %s\n", configPath)
	fmt.Fprintf(out, "  Policy:   %s\n", policyPath)
	fmt.Fprintf(out, "  Database: %s\n", dataPath)
	return nil
}

// defaultConfig returns the loaded config, or the built-in defaults when
// init runs before any config exists.
func defaultConfig(cmd *cobra.Command) *config.Config {
	if cliCtx := GetCLIContext(cmd); cliCtx != nil && cliCtx.Config != nil {
		cfg := *cliCtx.Config
		return &cfg
	}
	config.Reset()
	cfg, err := config.Load("")
	if err != nil {
		return &config.Config{}
	}
	return cfg
}
