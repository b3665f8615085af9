package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/voldiag/internal/logging"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // Supports multiple --log-level flags
	configPath    string
	inputFlags    inputOptions
)

var rootCmd = &cobra.Command{
	Use:   "voldiag",
	Short: "voldiag - Kubernetes volume I/O failure diagnosis",
	Long: `voldiag correlates issues observed at the kubernetes, linux and storage
layers into a knowledge graph, ranks root cause hypotheses and generates an
investigation plan for a failing pod volume.

Collector output is passed as observation files (--observations) and
Kubernetes/CSI manifests (--manifests).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level kgraph=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		nil,
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level ingest.manifests=debug --log-level kgraph=warn")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&inputFlags.observations, "observations", nil,
		"Observation file(s) with entities, issues and relationships")
	rootCmd.PersistentFlags().StringSliceVar(&inputFlags.manifests, "manifests", nil,
		"Kubernetes/CSI manifest file(s) or directories")
	rootCmd.PersistentFlags().StringVar(&inputFlags.rulesFile, "rules", "",
		"Additional pattern rules file (overrides rules.extra_rules_file)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(mcpCmd)
}

// setupLog initializes the logging system.
// Priority: CLI flags > Environment variables > config file > "info"
func setupLog(flags []string, cfgDefault string, cfgPackages map[string]string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags, cfgDefault, cfgPackages)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags merges config levels, environment variables and CLI
// flags, later sources overriding earlier ones.
//
// CLI format: ["debug"], ["default=info", "kgraph=debug"], or ["info"]
// Env vars: LOG_LEVEL_INGEST_MANIFESTS=debug (package name uppercased, dots to underscores)
//
// Returns: (defaultLevel, packageLevels map, error)
func parseLogLevelFlags(flags []string, cfgDefault string, cfgPackages map[string]string) (string, map[string]string, error) {
	result := make(map[string]string)
	if cfgDefault != "" {
		result["default"] = cfgDefault
	}
	for pkg, level := range cfgPackages {
		result[pkg] = level
	}

	for _, envPair := range os.Environ() {
		if strings.HasPrefix(envPair, "LOG_LEVEL_") {
			parts := strings.SplitN(envPair, "=", 2)
			if len(parts) != 2 {
				continue
			}
			result[convertEnvKeyToPackageName(parts[0])] = parts[1]
		}
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if !logging.ValidLevel(defaultLevel) {
		return "", nil, fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", defaultLevel)
	}
	for pkg, level := range result {
		if !logging.ValidLevel(level) {
			return "", nil, fmt.Errorf("invalid log level for package %q: %s", pkg, level)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_INGEST_MANIFESTS -> ingest.manifests
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}
