// Command primeqecc runs the Weil explicit formula / Bruhat-Tits holography
// toy model: it loads a table of Riemann zero heights, evaluates the
// explicit formula for an even test function, builds the p-adic tree and
// scores the structural agreement between the two.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tibesept/prime-qecc-v2/internal/pipeline"
	"github.com/tibesept/prime-qecc-v2/internal/zerosource"
)

const Version = "2.0.0"

// ==================== CONFIGURATION ====================

type InputConfig struct {
	ZerosPath string `json:"zeros_path" yaml:"zeros_path" mapstructure:"zeros_path"`
	MaxZeros  int    `json:"max_zeros" yaml:"max_zeros" mapstructure:"max_zeros"`
	Verify    bool   `json:"verify" yaml:"verify" mapstructure:"verify"`
}

type OutputConfig struct {
	Directory      string `json:"directory" yaml:"directory" mapstructure:"directory"`
	FilenamePrefix string `json:"filename_prefix" yaml:"filename_prefix" mapstructure:"filename_prefix"`
	SaveVertexCSV  bool   `json:"save_vertex_csv" yaml:"save_vertex_csv" mapstructure:"save_vertex_csv"`
	SavePrimeCSV   bool   `json:"save_prime_csv" yaml:"save_prime_csv" mapstructure:"save_prime_csv"`
	LogLevel       string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

type Config struct {
	Input  InputConfig     `json:"input" yaml:"input" mapstructure:"input"`
	Run    pipeline.Params `json:"run" yaml:"run" mapstructure:"run"`
	Sweep  []float64       `json:"sweep_widths" yaml:"sweep_widths" mapstructure:"sweep_widths"`
	Shift  float64         `json:"resonance_shift" yaml:"resonance_shift" mapstructure:"resonance_shift"`
	Output OutputConfig    `json:"output" yaml:"output" mapstructure:"output"`
}

func setDefaults() {
	viper.SetDefault("input.zeros_path", "data/zeta_zeros.txt")
	viper.SetDefault("input.max_zeros", 10000)
	viper.SetDefault("input.verify", true)

	viper.SetDefault("run.p", 3)
	viper.SetDefault("run.depth", 4)
	viper.SetDefault("run.prime_cutoff", 10000)
	viper.SetDefault("run.test_function.family", "gaussian")
	viper.SetDefault("run.test_function.width", 1.0)
	viper.SetDefault("run.tolerance", 1e-6)
	viper.SetDefault("run.max_subdivisions", 65536)
	viper.SetDefault("run.workers", 0) // 0 = engine default
	viper.SetDefault("run.anomaly_epsilon", 3.0)
	viper.SetDefault("run.min_charged_leaves", 4)

	viper.SetDefault("sweep_widths", []float64{0.3, 0.5, 0.8, 1.0, 1.5, 2.0})
	viper.SetDefault("resonance_shift", 0.1)

	viper.SetDefault("output.directory", ".")
	viper.SetDefault("output.filename_prefix", "primeqecc")
	viper.SetDefault("output.save_vertex_csv", true)
	viper.SetDefault("output.save_prime_csv", false)
	viper.SetDefault("output.log_level", "info")
}

func loadConfig(path string) (*Config, error) {
	setDefaults()
	if path != "" {
		viper.SetConfigFile(path)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

// ==================== COMMAND LINE INTERFACE ====================

var (
	configPath string
	zerosPath  string
	maxZeros   int
	primeP     int
	treeDepth  int
	cutoff     float64
	family     string
	width      float64
	tolerance  float64
	outputDir  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "primeqecc",
	Short: "Weil explicit formula meets the Bruhat-Tits tree",
	Long: `Numerically explores the correspondence between the Weil explicit formula
(zeta zeros vs. prime powers) and a holographic code on the Bruhat-Tits tree
for a fixed prime p. Produces a structured connection report for dashboards.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the formula, build the tree and score the connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx := signalContext()

		zeros, err := loadZeros(cfg, logger)
		if err != nil {
			return err
		}

		report, err := pipeline.Run(ctx, cfg.Run, zeros, logger)
		if err != nil {
			return err
		}

		storage := NewStorage(&cfg.Output, logger)
		if err := storage.SaveReport(report); err != nil {
			return err
		}

		fmt.Printf("residual      = %.6e\n", report.FormulaTerms.Residual)
		if report.Score.Defined {
			fmt.Printf("correlation   = %.6f\n", report.Score.Correlation)
		} else {
			fmt.Println("correlation   = undefined")
		}
		fmt.Printf("anomalies     = %d\n", len(report.Score.AnomalyVertices))
		for _, w := range report.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate the formula across a ladder of test-function widths",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx := signalContext()

		zeros, err := loadZeros(cfg, logger)
		if err != nil {
			return err
		}

		report, err := pipeline.RunSweep(ctx, cfg.Run, cfg.Sweep, zeros, logger)
		if err != nil {
			return err
		}

		storage := NewStorage(&cfg.Output, logger)
		if err := storage.SaveSweep(report); err != nil {
			return err
		}

		verdict := "POSITIVE"
		if !report.AllPositive {
			verdict = "NEGATIVE"
		}
		fmt.Printf("weil positivity = %s (min geometric side %.6e)\n", verdict, report.MinGeometric)
		return nil
	},
}

var resonanceCmd = &cobra.Command{
	Use:   "resonance",
	Short: "Find the prime most sensitive to an off-critical zero shift",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx := signalContext()

		zeros, err := loadZeros(cfg, logger)
		if err != nil {
			return err
		}

		report, err := pipeline.RunResonance(ctx, cfg.Run, cfg.Shift, zeros, logger)
		if err != nil {
			return err
		}

		storage := NewStorage(&cfg.Output, logger)
		if err := storage.SaveResonance(report); err != nil {
			return err
		}

		fmt.Printf("resonance prime = %d (max delta %.6e)\n", report.ResonancePrime, report.MaxDelta)
		fmt.Printf("unitarity violation: healthy %.2f, broken %.2f\n", report.HealthyViolation, report.BrokenViolation)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("primeqecc v%s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "primeqecc.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&zerosPath, "zeros", "", "Zero table path (overrides config)")
	rootCmd.PersistentFlags().IntVar(&maxZeros, "max-zeros", 0, "Zero count cap (overrides config)")
	rootCmd.PersistentFlags().IntVar(&primeP, "p", 0, "Prime p (overrides config)")
	rootCmd.PersistentFlags().IntVar(&treeDepth, "depth", 0, "Tree depth D (overrides config)")
	rootCmd.PersistentFlags().Float64Var(&cutoff, "cutoff", 0, "Prime-power cutoff (overrides config)")
	rootCmd.PersistentFlags().StringVar(&family, "family", "", "Test function family: gaussian, fejer, hann-bump")
	rootCmd.PersistentFlags().Float64Var(&width, "width", 0, "Test function width parameter")
	rootCmd.PersistentFlags().Float64Var(&tolerance, "tolerance", 0, "Quadrature / tail tolerance")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "Output directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")

	viper.SetEnvPrefix("PRIMEQECC")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, sweepCmd, resonanceCmd, versionCmd)
}

func setup() (*Config, *logrus.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	applyCommandLineOverrides(cfg)

	logLevel := cfg.Output.LogLevel
	if verbose {
		logLevel = "debug"
	}
	return cfg, newLogger(logLevel), nil
}

func applyCommandLineOverrides(cfg *Config) {
	if zerosPath != "" {
		cfg.Input.ZerosPath = zerosPath
	}
	if maxZeros > 0 {
		cfg.Input.MaxZeros = maxZeros
	}
	if primeP > 0 {
		cfg.Run.P = primeP
	}
	if treeDepth > 0 {
		cfg.Run.Depth = treeDepth
	}
	if cutoff > 0 {
		cfg.Run.PrimeCutoff = cutoff
	}
	if family != "" {
		cfg.Run.TestFunction.Family = family
	}
	if width > 0 {
		cfg.Run.TestFunction.Width = width
	}
	if tolerance > 0 {
		cfg.Run.Tolerance = tolerance
	}
	if outputDir != "" {
		cfg.Output.Directory = outputDir
	}
}

func loadZeros(cfg *Config, logger *logrus.Logger) ([]zerosource.ZeroRecord, error) {
	loader := zerosource.NewLoader(logger)
	zeros, err := loader.Load(cfg.Input.ZerosPath, cfg.Input.MaxZeros)
	if err != nil {
		return nil, err
	}
	if cfg.Input.Verify {
		if err := zerosource.VerifyFirstFive(zeros); err != nil {
			return nil, err
		}
		logger.Info("First five zero heights verified against the Odlyzko baseline")
	}
	return zeros, nil
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
