package main

import (
	"github.com/spf13/cobra"

	"asterion/pkg/asterion"
)

func newPopulationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "population",
		Short: "Manage the model population on disk",
	}

	var (
		count      int
		activation string
		seed       int64
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a founder generation of random models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if count > 0 {
				cfg.Population.Count = count
			}
			if activation != "" {
				cfg.Population.Activation = activation
			}
			if seed != 0 {
				cfg.Population.Seed = seed
			}

			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			return client.InitPopulation(cmd.Context(), asterion.InitPopulationRequest{
				Root:       cfg.Population.Root,
				Count:      cfg.Population.Count,
				LayerSizes: cfg.Population.LayerSizes,
				Activation: cfg.Population.Activation,
				Seed:       cfg.Population.Seed,
			})
		},
	}
	initCmd.Flags().IntVar(&count, "count", 0, "population size (overrides config)")
	initCmd.Flags().StringVar(&activation, "activation", "", "activation for all layers (overrides config)")
	initCmd.Flags().Int64Var(&seed, "seed", 0, "rng seed (overrides config)")

	cmd.AddCommand(initCmd)
	return cmd
}

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect serialized models",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info <path>",
		Short: "Print a model's topology",
		Args:  cobra.ExactArgs(1),
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

			info, err := client.InspectModel(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	})
	return cmd
}
