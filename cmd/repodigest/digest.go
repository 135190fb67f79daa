package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/filter"
	"github.com/fyrsmithlabs/repodigest/internal/logging"
	"github.com/fyrsmithlabs/repodigest/internal/repository"
)

// tokenEnv is read when --token is not given.
const tokenEnv = "REPODIGEST_TOKEN"

type digestFlags struct {
	format        string
	includeTests  bool
	includeDocs   bool
	smartFilter   bool
	maxFileSize   int64
	redactSecrets bool
	token         string
	private       bool
	output        string
	verbose       bool
}

func newDigestCmd(root *rootOptions, appOpts *appOptions) *cobra.Command {
	f := &digestFlags{}

	cmd := &cobra.Command{
		Use:   "digest <repository-url>",
		Short: "Produce a digest of a remote repository",
		Long: `Clone a repository and print its digest.

Unset flags fall back to digest.defaults in the config file.

Examples:
  # Markdown digest of a public repository
  repodigest digest https://github.com/acme/widgets

  # Source only, as JSON, into a file
  repodigest digest https://github.com/acme/widgets \
      --include-tests=false --include-docs=false --format structured -o widgets.json

  # Private repository
  REPODIGEST_TOKEN=ghp_... repodigest digest --private https://github.com/acme/secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			opts := appOptions{}
			if appOpts != nil {
				opts = *appOpts
			}
			if opts.logWriter == nil {
				opts.logWriter = cmd.ErrOrStderr()
			}
			return runDigest(cmd, cfg, f, args[0], opts)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.format, "format", "", "output format: markdown, plaintext or structured")
	fl.BoolVar(&f.includeTests, "include-tests", true, "include files that look like tests")
	fl.BoolVar(&f.includeDocs, "include-docs", true, "include README, docs and markdown files")
	fl.BoolVar(&f.smartFilter, "smart-filter", true, "drop generated, minified and trivially small or huge files")
	fl.Int64Var(&f.maxFileSize, "max-file-size", 0, "skip files larger than this many bytes")
	fl.BoolVar(&f.redactSecrets, "redact-secrets", false, "redact credentials found in file contents")
	fl.StringVar(&f.token, "token", "", "access token for private repositories (default $"+tokenEnv+")")
	fl.BoolVar(&f.private, "private", false, "the repository requires a token")
	fl.StringVarP(&f.output, "output", "o", "", "write the digest to this file instead of stdout")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	return cmd
}

// resolveOptions overlays the flags the user set on the configured
// defaults.
func resolveOptions(cmd *cobra.Command, d config.DefaultsConfig, f *digestFlags) filter.Options {
	opts := filter.Options{
		IncludeTests:  d.IncludeTests,
		IncludeDocs:   d.IncludeDocs,
		SmartFilter:   d.SmartFilter,
		MaxFileSize:   d.MaxFileSize,
		OutputFormat:  d.OutputFormat,
		RedactSecrets: d.RedactSecrets,
	}
	fl := cmd.Flags()
	if fl.Changed("format") {
		opts.OutputFormat = f.format
	}
	if fl.Changed("include-tests") {
		opts.IncludeTests = f.includeTests
	}
	if fl.Changed("include-docs") {
		opts.IncludeDocs = f.includeDocs
	}
	if fl.Changed("smart-filter") {
		opts.SmartFilter = f.smartFilter
	}
	if fl.Changed("max-file-size") {
		opts.MaxFileSize = f.maxFileSize
	}
	if fl.Changed("redact-secrets") {
		opts.RedactSecrets = f.redactSecrets
	}
	return opts
}

// resolveToken picks the flag, then the environment, then the config.
func resolveToken(f *digestFlags, cfg *config.Config) config.Secret {
	if f.token != "" {
		return config.Secret(f.token)
	}
	if v := os.Getenv(tokenEnv); v != "" {
		return config.Secret(v)
	}
	return cfg.Digest.Token
}

func runDigest(cmd *cobra.Command, cfg *config.Config, f *digestFlags, url string, opts appOptions) error {
	// The CLI logs for humans on stderr; only problems by default.
	cfg.Logging.Format = "console"
	cfg.Logging.Level = "warn"
	if f.verbose {
		cfg.Logging.Level = "debug"
	}

	ctx := logging.WithRequestID(cmd.Context(), uuid.NewString())
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.close(context.WithoutCancel(ctx))
	}()

	req := repository.Request{
		URL:        url,
		Options:    resolveOptions(cmd, cfg.Digest.Defaults, f),
		Credential: resolveToken(f, cfg),
		Private:    f.private,
	}
	res, err := a.service.Process(ctx, req)
	if err != nil {
		a.logger.Debug(ctx, "digest failed", zap.Error(err))
		return err
	}

	body, err := res.Body()
	if err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), f.output, body); err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), renderSummary(res, f.output))
	return nil
}

func writeOutput(stdout io.Writer, path string, body []byte) error {
	if path == "" {
		if _, err := stdout.Write(body); err != nil {
			return fmt.Errorf("writing digest: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("writing digest to %s: %w", path, err)
	}
	return nil
}
