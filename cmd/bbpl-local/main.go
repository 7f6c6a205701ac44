// Command bbpl-local runs a bitbucket-pipelines.yml document locally
// against a Docker-compatible engine. Adapted from the teacher's five
// single-purpose cmd/* mains into one cobra-based binary, the way
// buildkite-cli's pkg/cmd/root wires its subcommands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"blockci-q/internal/config"
	"blockci-q/internal/engine"
	"blockci-q/internal/history"
	"blockci-q/internal/httpstatus"
	"blockci-q/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		pipelineFile     string
		dockerHost       string
		image            string
		verbose          bool
		envFile          string
		disableArtifacts bool
	)

	root := &cobra.Command{
		Use:   "bbpl-local",
		Short: "Run Bitbucket Pipelines locally against a Docker-compatible engine",
	}
	root.PersistentFlags().StringVar(&pipelineFile, "file", "bitbucket-pipelines.yml", "path to the pipeline document")
	root.PersistentFlags().StringVar(&dockerHost, "docker-host", "", "Docker engine socket or address (overrides config)")
	root.PersistentFlags().StringVar(&image, "image", "", "default container image (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "user-specified env file layered into each step's environment")
	root.PersistentFlags().BoolVar(&disableArtifacts, "disable-artifacts", false, "skip saving and restoring step artifacts")

	newEngine := func() (*engine.Engine, error) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(wd, config.Overrides{
			DockerHost:        dockerHost,
			DefaultImage:      image,
			Verbose:           &verbose,
			EnvFile:           envFile,
			ArtifactsDisabled: &disableArtifacts,
		})
		if err != nil {
			return nil, err
		}
		if err := eng.LoadDocument(pipelineFile); err != nil {
			return nil, err
		}
		return eng, nil
	}

	root.AddCommand(newRunCmd(newEngine))
	root.AddCommand(newValidateCmd(newEngine))
	root.AddCommand(newListPipelinesCmd(newEngine))
	root.AddCommand(newClearCacheCmd(newEngine))
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newServeCmd(newEngine))
	return root
}

func newRunCmd(newEngine func() (*engine.Engine, error)) *cobra.Command {
	var (
		custom   string
		branch   string
		pipeline string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()
			defer cancel()

			result, err := eng.Run(ctx, model.SelectionIntent{Custom: custom, Branch: branch, Pipeline: pipeline}, dryRun)
			if err != nil {
				return err
			}
			printResult(result)
			if !result.Success {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&custom, "custom", "", "run a custom pipeline by name")
	cmd.Flags().StringVar(&branch, "branch", "", "simulate running on this branch")
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "select the literal pipeline id (only \"default\")")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and walk the pipeline without running containers")
	return cmd
}

func newValidateCmd(newEngine func() (*engine.Engine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the pipeline document without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			res, err := eng.Validate()
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			for _, e := range res.Errors {
				fmt.Fprintln(os.Stderr, "error:", e)
			}
			if !res.OK() {
				os.Exit(1)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newListPipelinesCmd(newEngine func() (*engine.Engine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list-pipelines",
		Short: "List every selectable pipeline in the document",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			labels, err := eng.ListPipelines()
			if err != nil {
				return err
			}
			for _, l := range labels {
				fmt.Println(l)
			}
			return nil
		},
	}
}

func newClearCacheCmd(newEngine func() (*engine.Engine, error)) *cobra.Command {
	var caches, artifacts bool
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove cached content and/or artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			if !caches && !artifacts {
				caches, artifacts = true, true
			}
			return eng.ClearCache(caches, artifacts)
		},
	}
	cmd.Flags().BoolVar(&caches, "caches", false, "clear caches only")
	cmd.Flags().BoolVar(&artifacts, "artifacts", false, "clear artifacts only")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var historyPath, keysDir string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect, verify, or bootstrap the run history ledger",
	}
	cmd.PersistentFlags().StringVar(&historyPath, "path", "", "history ledger path (defaults to the configured location)")
	cmd.PersistentFlags().StringVar(&keysDir, "keys", "", "signing key directory (defaults to the configured location)")

	resolve := func() (string, string, error) {
		cfg, err := config.Load(".", config.Overrides{})
		if err != nil {
			return "", "", err
		}
		path, keys := historyPath, keysDir
		if path == "" {
			path = cfg.HistoryPath
		}
		if keys == "" {
			keys = cfg.KeysDir
		}
		return path, keys, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print every recorded history entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, keys, err := resolve()
			if err != nil {
				return err
			}
			ledger, err := history.Open(path, keys)
			if err != nil {
				return err
			}
			for _, e := range ledger.Entries {
				fmt.Printf("%d\t%s\t%s\t%s\t%s\texit=%d\n", e.Index, e.Timestamp, e.Kind, e.RunID, e.StepName, e.ExitCode)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the chain's hash links and signatures",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, keys, err := resolve()
			if err != nil {
				return err
			}
			ledger, err := history.Open(path, keys)
			if err != nil {
				return err
			}
			if err := ledger.Verify(); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Generate the signing keypair if it doesn't already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, keys, err := resolve()
			if err != nil {
				return err
			}
			if _, _, err := history.LoadOrCreateKeyPair(keys); err != nil {
				return err
			}
			fmt.Println("keys ready at", keys)
			return nil
		},
	})
	return cmd
}

func newServeCmd(newEngine func() (*engine.Engine, error)) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only status endpoint over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			srv := httpstatus.New(eng)
			fmt.Println("listening on", addr)
			return http.ListenAndServe(addr, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func printResult(result model.ExecutionResult) {
	fmt.Printf("run %s: pipeline=%s success=%v duration=%s\n", result.RunID, result.PipelineName, result.Success, result.Duration)
	for _, item := range result.Items {
		if item.Kind == model.ItemStep {
			fmt.Printf("  %s: %s (exit=%d)\n", item.Step.Name, item.Step.State, item.Step.ExitCode)
			continue
		}
		for _, child := range item.Group.Children {
			fmt.Printf("  [parallel] %s: %s (exit=%d)\n", child.Name, child.State, child.ExitCode)
		}
	}
	if result.FailedAt != "" {
		fmt.Println("failed at:", result.FailedAt)
	}
}
