package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/juniper-run/juniper/pkg/github"
	"github.com/juniper-run/juniper/pkg/kernel"
	"github.com/juniper-run/juniper/pkg/log"
	"github.com/juniper-run/juniper/pkg/orchestrator"
)

var (
	runConfigPath   string
	runRepo         string
	runBranch       string
	runServiceURL   string
	runKernelType   string
	runCode         string
	runBaseURL      string
	runWSURL        string
	runToken        string
	runNoProvision  bool
	runNoCache      bool
	runNoIsolate    bool
	runCacheKey     string
	runCacheTTLMins int
	runQuiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute a code snippet on a remote kernel",
	Long: `Execute a code snippet on a remote kernel.

The code comes from a file argument, the --code flag, or stdin. The
kernel session comes from the local session cache when a live one is
known, from a Binder-style provisioning service otherwise, or from a
kernel service given with --base-url/--token.

Examples:
  juniper run --repo ines/spacy-course --code 'print("hi")'
  juniper run exercise.py --repo ines/spacy-course --branch master
  echo '1 + 1' | juniper run --base-url http://127.0.0.1:8888 --token abc`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readCode(args)
		if err != nil {
			return err
		}

		opts, err := buildOptions(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if opts.UseProvisioning {
			repo, err := github.ParseRepo(opts.Repository)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("branch") && opts.Branch == "master" {
				resolver := github.NewResolver(ctx, os.Getenv("GITHUB_TOKEN"))
				opts.Branch = resolver.ResolveBranch(ctx, repo, "")
			}
		}

		orch, err := orchestrator.New(opts)
		if err != nil {
			return err
		}
		defer orch.Close()

		if !runQuiet {
			ch, unsub := orch.Events()
			defer unsub()
			go func() {
				for ev := range ch {
					log.Info("kernel status", "status", ev.Status)
				}
			}()
		}

		sink := newWriterSink(os.Stdout)
		if err := orch.Execute(ctx, code, sink); err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		return nil
	},
}

func readCode(args []string) (string, error) {
	if runCode != "" {
		return runCode, nil
	}
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read code file: %w", err)
		}
		return string(data), nil
	}

	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read code from stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) != "" {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("no code given: pass a file, --code, or pipe to stdin")
}

func buildOptions(cmd *cobra.Command) (orchestrator.Options, error) {
	opts := orchestrator.DefaultOptions()

	if runConfigPath != "" {
		cfg, err := loadConfigFile(runConfigPath)
		if err != nil {
			return opts, err
		}
		opts = cfg.apply(opts)
	}

	if runRepo != "" {
		opts.Repository = runRepo
	}
	if cmd.Flags().Changed("branch") {
		opts.Branch = runBranch
	}
	if runServiceURL != "" {
		opts.ServiceURL = runServiceURL
	}
	if runKernelType != "" {
		opts.KernelType = runKernelType
	}
	if runCacheKey != "" {
		opts.CacheKey = runCacheKey
	}
	if runCacheTTLMins > 0 {
		opts.CacheTTL = time.Duration(runCacheTTLMins) * time.Minute
	}
	if runNoProvision {
		opts.UseProvisioning = false
	}
	if runNoCache {
		opts.UseCache = false
	}
	if runNoIsolate {
		opts.IsolateExecutions = false
	}

	if runBaseURL != "" {
		wsURL := runWSURL
		if wsURL == "" && strings.HasPrefix(runBaseURL, "http") {
			wsURL = "ws" + runBaseURL[4:]
		}
		opts.StaticSettings = &kernel.ConnectionSettings{
			BaseURL:      runBaseURL,
			WebSocketURL: wsURL,
			Token:        runToken,
		}
		// Pointing at a concrete service implies no provisioning.
		opts.UseProvisioning = false
	}

	return opts, nil
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to a YAML config file")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "GitHub repository to provision (owner/name)")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "Repository branch (default: the repo's default branch)")
	runCmd.Flags().StringVar(&runServiceURL, "service-url", "", "Provisioning service base URL (default https://mybinder.org)")
	runCmd.Flags().StringVar(&runKernelType, "kernel", "", "Kernel spec to launch (default python3)")
	runCmd.Flags().StringVar(&runCode, "code", "", "Inline code to execute")
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "Connect to this kernel service instead of provisioning")
	runCmd.Flags().StringVar(&runWSURL, "ws-url", "", "Kernel service websocket URL (default: derived from --base-url)")
	runCmd.Flags().StringVar(&runToken, "token", "", "Kernel service auth token")
	runCmd.Flags().BoolVar(&runNoProvision, "no-provision", false, "Never request provisioning")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "Do not reuse or persist sessions")
	runCmd.Flags().BoolVar(&runNoIsolate, "no-isolate", false, "Share interpreter state across runs")
	runCmd.Flags().StringVar(&runCacheKey, "cache-key", "", "Session cache key (default juniper)")
	runCmd.Flags().IntVar(&runCacheTTLMins, "cache-ttl", 0, "Session cache TTL in minutes (default 60)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress kernel status events")

	rootCmd.AddCommand(runCmd)
}
