package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/gateway/handlers"
	"conduit/internal/policy"
	"conduit/internal/provider"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose system health",
		Long: `Run diagnostic checks on your conduit installation.

This command checks:
- Configuration and policy file validity
- Hook script paths
- Database accessibility
- Server status
- Model reachability`,
		RunE: runDoctor,
	}
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func passed(name, format string, args ...any) checkResult {
	return checkResult{name: name, status: "ok", message: fmt.Sprintf(format, args...)}
}

func warned(name, format string, args ...any) checkResult {
	return checkResult{name: name, status: "warning", message: fmt.Sprintf(format, args...)}
}

func failed(name, format string, args ...any) checkResult {
	return checkResult{name: name, status: "error", message: fmt.Sprintf(format, args...)}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cliCtx, err := mustContext(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "conduit doctor")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)

	results := []checkResult{
		checkSystemInfo(),
		checkConfigFile(cliCtx),
		checkPolicyFile(cliCtx.Config),
		checkHookScripts(cliCtx.Config),
		checkStorage(cliCtx),
		checkServer(cmd.Context(), cliCtx),
		checkModel(cmd.Context(), cliCtx.Config),
	}
	printResults(out, results)
	return nil
}

func printResults(out io.Writer, results []checkResult) {
	hasErrors, hasWarnings := false, false
	for _, r := range results {
		icon := "✓"
		switch r.status {
		case "warning":
			icon = "⚠️"
			hasWarnings = true
		case "error":
			icon = "✗"
			hasErrors = true
		}
		fmt.Fprintf(out, "%s %s: %s\n", icon, r.name, r.message)
	}

	fmt.Fprintln(out)
	switch {
	case hasErrors:
		fmt.Fprintln(out, "❌ Some checks failed. Please address the issues above.")
	case hasWarnings:
		fmt.Fprintln(out, "⚠️  Some warnings detected. Your setup should work but may have issues.")
	default:
		fmt.Fprintln(out, "✅ All checks passed! conduit is ready to use.")
	}
}

func checkSystemInfo() checkResult {
	return passed("System", "Go %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func checkConfigFile(cliCtx *CLIContext) checkResult {
	const name = "Config File"
	path := cliCtx.ConfigPath
	if path == "" {
		return warned(name, "No config file (using defaults)")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return warned(name, "Not found: %s (using defaults). Run: conduit init", path)
	}
	// The root command already parsed it; a parse error never gets here.
	if cliCtx.Config.Gateway.Port == 0 {
		return warned(name, "Found: %s (gateway.port is 0, a random port will be used)", path)
	}
	return passed(name, "Found: %s", path)
}

func checkPolicyFile(cfg *config.Config) checkResult {
	const name = "Policy"
	if cfg.Policy.Path == "" {
		return warned(name, "No policy file configured (allow all, no approvals)")
	}
	path, err := config.ExpandPath(cfg.Policy.Path)
	if err != nil {
		return failed(name, "Bad path %s: %v", cfg.Policy.Path, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return warned(name, "Not found: %s (using default policy)", path)
	}
	if err != nil {
		return failed(name, "Cannot read %s: %v", path, err)
	}
	p, err := policy.Parse(data)
	if err != nil {
		return failed(name, "Invalid: %v", err)
	}
	return passed(name, "%s (%d rules)", path, len(p.Rules))
}

func checkHookScripts(cfg *config.Config) checkResult {
	const name = "Hook Scripts"
	if len(cfg.Hooks.Scripts) == 0 {
		return passed(name, "None configured")
	}
	for _, s := range cfg.Hooks.Scripts {
		path, err := config.ExpandPath(s.Path)
		if err != nil {
			return failed(name, "%s: %v", s.ID, err)
		}
		if _, err := os.Stat(path); err != nil {
			return failed(name, "%s: %v", s.ID, err)
		}
	}
	return passed(name, "%d configured", len(cfg.Hooks.Scripts))
}

func checkStorage(cliCtx *CLIContext) checkResult {
	const name = "Storage"
	if cliCtx.Config.Storage.Driver == "memory" {
		return warned(name, "In-memory driver; todos and approval history are not persisted")
	}

	dir := filepath.Dir(cliCtx.StoragePath)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return warned(name, "Will be created: %s", dir)
	}

	db, err := cliCtx.GetStorage()
	if err != nil {
		return failed(name, "Cannot open %s: %v", cliCtx.StoragePath, err)
	}
	if err := db.Ping(); err != nil {
		return failed(name, "Ping failed: %v", err)
	}

	if info, err := os.Stat(cliCtx.StoragePath); err == nil {
		return passed(name, "%s (%.2f MB)", cliCtx.StoragePath, float64(info.Size())/1024/1024)
	}
	return passed(name, "%s", cliCtx.StoragePath)
}

func checkServer(ctx context.Context, cliCtx *CLIContext) checkResult {
	const name = "Server"
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var health handlers.HealthResponse
	if err := cliCtx.Client().Get(ctx, "/health", &health); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return warned(name, "Degraded at %s: %s", cliCtx.ServerURL, apiErr.Message)
		}
		return warned(name, "Not running at %s. Start with: conduit serve", cliCtx.ServerURL)
	}
	return passed(name, "Running at %s (status: %s, version: %s)", cliCtx.ServerURL, health.Status, health.Version)
}

func checkModel(ctx context.Context, cfg *config.Config) checkResult {
	const name = "Model"
	model, err := provider.New(provider.Config{
		Name:      cfg.Model.Provider,
		Endpoint:  cfg.Model.Endpoint,
		Model:     cfg.Model.Name,
		Timeout:   cfg.Model.Timeout,
		KeepAlive: cfg.Model.KeepAlive,
	}, nil)
	if err != nil {
		return failed(name, "%v", err)
	}
	pinger, isPinger := model.(provider.Pinger)
	if !isPinger {
		return passed(name, "%s (offline provider)", providerName(cfg))
	}
	if err := pinger.Ping(ctx); err != nil {
		return failed(name, "%s unreachable: %v", providerName(cfg), err)
	}
	return passed(name, "%s %s at %s", providerName(cfg), cfg.Model.Name, cfg.Model.Endpoint)
}

func providerName(cfg *config.Config) string {
	if cfg.Model.Provider == "" {
		return "echo"
	}
	return cfg.Model.Provider
}
