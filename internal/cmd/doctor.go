package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goharvest/internal/config"
	"github.com/3leaps/goharvest/internal/observability"
	"github.com/3leaps/goharvest/pkg/extract"
	s3store "github.com/3leaps/goharvest/pkg/objectstore/s3"
)

var doctorS3 bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the runtime a job would use and suggest fixes
for common issues.

Examples:
  goharvest doctor         # Environment, config, scratch dir and sink
  goharvest doctor --s3    # Also resolve AWS credentials for s3:// manifests`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorS3, "s3", false, "Check AWS credentials used for s3:// manifest destinations")
}

// doctorCheck returns a short detail on success.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (string, error)
}

func doctorChecks(withS3 bool) []doctorCheck {
	checks := []doctorCheck{
		{"Go version", checkGoVersion},
		{"data directory", checkDataDir},
		{"scratch directory", checkScratchDir},
		{"extractors", checkExtractors},
		{"index sink", checkSink},
	}
	if withS3 {
		checks = append(checks, doctorCheck{"AWS credentials", checkS3Credentials})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return exitError(exitConfigError, "Configuration unavailable", err)
	}

	bannerName := "doctor"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")

	failed := runDoctorChecks(cmd.Context(), cfg, doctorChecks(doctorS3))
	if failed > 0 {
		log.Warn("Some checks failed. Review the output above for details.", zap.Int("failed", failed))
		return exitError(exitServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d check(s) failed", failed))
	}
	log.Info(fmt.Sprintf("All checks passed. Your %s installation is healthy.", bannerName))
	return nil
}

// runDoctorChecks logs each result and returns the number of failures.
func runDoctorChecks(ctx context.Context, cfg *config.Config, checks []doctorCheck) int {
	failed := 0
	for i, c := range checks {
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, err := c.run(ctx, cfg)
		if err != nil {
			failed++
			observability.CLILogger.Error(prefix+" FAILED", zap.Error(err))
			if c.name == "AWS credentials" {
				printAWSCredentialsHelp()
			}
			continue
		}
		observability.CLILogger.Info(prefix + " ok " + detail)
	}
	return failed
}

func checkGoVersion(context.Context, *config.Config) (string, error) {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
}

func checkDataDir(context.Context, *config.Config) (string, error) {
	dir := gfconfig.GetAppDataDir("goharvest")
	if dir == "" {
		return "", fmt.Errorf("cannot resolve application data directory")
	}
	return dir, nil
}

// checkScratchDir verifies manifests can be staged before upload.
func checkScratchDir(_ context.Context, cfg *config.Config) (string, error) {
	dir := cfg.Engine.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".goharvest-doctor-*")
	if err != nil {
		return "", fmt.Errorf("write %s: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return filepath.Clean(dir), nil
}

func checkExtractors(_ context.Context, cfg *config.Config) (string, error) {
	exts := extract.NewFileExtractor(cfg.ExtractorOptions()).SupportedExtensions()
	if len(exts) == 0 {
		return "", fmt.Errorf("no extractors registered")
	}
	return strings.Join(exts, ","), nil
}

// checkSink opens and closes the configured sink.
func checkSink(ctx context.Context, cfg *config.Config) (string, error) {
	_, closer, err := openSink(ctx, cfg.Sink, observability.CLILogger)
	if err != nil {
		return "", err
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return "", fmt.Errorf("close sink: %w", err)
		}
	}
	detail := cfg.Sink.Driver
	if cfg.Sink.Path != "" {
		detail += " " + cfg.Sink.Path
	}
	return detail, nil
}

func checkS3Credentials(ctx context.Context, cfg *config.Config) (string, error) {
	creds, err := s3store.Credentials(ctx, cfg.S3Options())
	if err != nil {
		return "", err
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s (source %s)", maskAccessKey(creds.AccessKeyID), source), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or GOHARVEST_S3_ACCESS_KEY_ID and GOHARVEST_S3_SECRET_ACCESS_KEY")
	log.Info("  2. Run 'aws configure' and select the profile with storage.s3.profile")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("For S3-compatible storage (MinIO, Wasabi), also set storage.s3.endpoint and storage.s3.force_path_style")
}
