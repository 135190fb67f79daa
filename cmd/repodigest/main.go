// Command repodigest turns a remote Git repository into a single digest
// suitable for an LLM prompt. It runs either as an HTTP service or as a
// one-shot CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/repodigest/internal/config"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "repodigest",
		Short: "Turn a Git repository into an LLM-ready digest",
		Long: `repodigest clones a repository from GitHub, GitLab or Bitbucket, filters
out tests, docs, binaries and generated files as requested, and emits the
rest as a single markdown, plaintext or structured JSON document.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/repodigest/config.yaml)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newDigestCmd(opts, nil))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the config file named by --config, or the default
// path when unset.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Load()
	}
	return config.LoadWithFile(o.configPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repodigest by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
