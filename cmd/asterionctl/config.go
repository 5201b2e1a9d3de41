package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for asterionctl. Flags override
// individual fields; everything has a workable default.
type Config struct {
	Population PopulationConfig `yaml:"population" mapstructure:"population"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
}

type PopulationConfig struct {
	Root       string  `yaml:"root" mapstructure:"root"`
	Count      int     `yaml:"count" mapstructure:"count"`
	LayerSizes []int32 `yaml:"layer_sizes" mapstructure:"layer_sizes"`
	Activation string  `yaml:"activation" mapstructure:"activation"`
	Seed       int64   `yaml:"seed" mapstructure:"seed"`
}

type RunConfig struct {
	GameBin        string        `yaml:"game_bin" mapstructure:"game_bin"`
	AgentBin       string        `yaml:"agent_bin" mapstructure:"agent_bin"`
	ShmDir         string        `yaml:"shm_dir" mapstructure:"shm_dir"`
	ReportPath     string        `yaml:"report_path" mapstructure:"report_path"`
	MaxParallel    int           `yaml:"max_parallel" mapstructure:"max_parallel"`
	Generations    int           `yaml:"generations" mapstructure:"generations"`
	EpochSize      int           `yaml:"epoch_size" mapstructure:"epoch_size"`
	EliteCount     int           `yaml:"elite_count" mapstructure:"elite_count"`
	Eta            float64       `yaml:"eta" mapstructure:"eta"`
	MutationRate   float64       `yaml:"mutation_rate" mapstructure:"mutation_rate"`
	MutationStddev float64       `yaml:"mutation_stddev" mapstructure:"mutation_stddev"`
	ScoreWeight    float64       `yaml:"score_weight" mapstructure:"score_weight"`
	TimeWeight     float64       `yaml:"time_weight" mapstructure:"time_weight"`
	LevelWeight    float64       `yaml:"level_weight" mapstructure:"level_weight"`
	Selection      string        `yaml:"selection" mapstructure:"selection"`
	ExcludeElites  bool          `yaml:"exclude_elites" mapstructure:"exclude_elites"`
	Seed           int64         `yaml:"seed" mapstructure:"seed"`
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	TickInterval   time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
	Path string `yaml:"path" mapstructure:"path"`
}

type APIConfig struct {
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Metrics bool   `yaml:"metrics" mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("population.root", "population")
	v.SetDefault("population.count", 20)
	v.SetDefault("population.layer_sizes", []int{4, 16, 5})
	v.SetDefault("population.activation", "sigmoid")

	v.SetDefault("run.shm_dir", "/dev/shm")
	v.SetDefault("run.max_parallel", 2)
	v.SetDefault("run.generations", 10)
	v.SetDefault("run.epoch_size", 0)
	v.SetDefault("run.elite_count", 2)
	v.SetDefault("run.eta", 5.0)
	v.SetDefault("run.mutation_rate", 0.05)
	v.SetDefault("run.mutation_stddev", 0.1)
	v.SetDefault("run.score_weight", 1.0)
	v.SetDefault("run.time_weight", 0.0)
	v.SetDefault("run.level_weight", 0.0)
	v.SetDefault("run.selection", "roulette")
	v.SetDefault("run.tick_interval", "1s")

	v.SetDefault("store.kind", "")
	v.SetDefault("store.path", "asterion.db")

	v.SetDefault("api.listen", "")
	v.SetDefault("api.metrics", true)
}

// loadConfig reads the YAML config at path. A missing file is not an
// error when the path is the default; flags and defaults carry the run.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage asterionctl configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	})
	return cmd
}
