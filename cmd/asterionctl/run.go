package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"asterion/pkg/asterion"
)

func newRunCmd() *cobra.Command {
	var (
		generations int
		maxParallel int
		seed        int64
		runID       string
		headless    bool
		listen      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run generations of instances and breed the population",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if generations > 0 {
				cfg.Run.Generations = generations
			}
			if maxParallel > 0 {
				cfg.Run.MaxParallel = maxParallel
			}
			if seed != 0 {
				cfg.Run.Seed = seed
			}
			if listen != "" {
				cfg.API.Listen = listen
			}
			if cmd.Flags().Changed("headless") {
				cfg.Run.Headless = headless
			}
			if err := asterion.ValidateShmDir(cfg.Run.ShmDir); err != nil {
				return fmt.Errorf("segment directory: %w", err)
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			summary, err := client.Run(cmd.Context(), asterion.RunRequest{
				PopulationRoot: cfg.Population.Root,
				GameBin:        cfg.Run.GameBin,
				AgentBin:       cfg.Run.AgentBin,
				ShmDir:         cfg.Run.ShmDir,
				ReportPath:     cfg.Run.ReportPath,
				RunID:          runID,
				MaxParallel:    cfg.Run.MaxParallel,
				Generations:    cfg.Run.Generations,
				EpochSize:      cfg.Run.EpochSize,
				EliteCount:     cfg.Run.EliteCount,
				Eta:            cfg.Run.Eta,
				MutationRate:   cfg.Run.MutationRate,
				MutationStddev: cfg.Run.MutationStddev,
				ScoreWeight:    cfg.Run.ScoreWeight,
				TimeWeight:     cfg.Run.TimeWeight,
				LevelWeight:    cfg.Run.LevelWeight,
				Selection:      cfg.Run.Selection,
				ExcludeElites:  cfg.Run.ExcludeElites,
				Seed:           cfg.Run.Seed,
				Headless:       cfg.Run.Headless,
				TickInterval:   cfg.Run.TickInterval,
				ListenAddr:     cfg.API.Listen,
				Metrics:        cfg.API.Metrics,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}

	cmd.Flags().IntVar(&generations, "generations", 0, "number of generations (overrides config)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "instance parallelism cap (overrides config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "rng seed (overrides config)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier for reports and history")
	cmd.Flags().BoolVar(&headless, "headless", false, "start game instances headless")
	cmd.Flags().StringVar(&listen, "listen", "", "control api listen address (overrides config)")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			runs, err := client.Runs(cmd.Context(), asterion.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd, runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
