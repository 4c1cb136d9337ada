package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/lioia/siterank/pkg/graph"
	"github.com/lioia/siterank/pkg/rank"
	"github.com/lioia/siterank/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	workers       int
	maxIterations int
	output        string
)

var rootCmd = &cobra.Command{
	Use:          "pagerank <file>",
	Short:        "Rank the sites of an edge list and print the top five",
	Long:         "Reads whitespace-separated (source, destination) pairs, runs damped power iteration until convergence and prints the five highest ranked sites.",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file (json or yaml)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "aggregation goroutines (default GOMAXPROCS)")
	rootCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration cap (default 1000)")
	rootCmd.Flags().StringVarP(&output, "render", "r", "", "render the ranked graph to this file (.dot, .svg, .png, .jpg)")
}

func run(cmd *cobra.Command, args []string) error {
	// Loading .env file if it exists
	_ = godotenv.Load()
	utils.InitLog(utils.ReadBoolEnvVarOr("NODE_LOG", false), false)

	var config utils.Config
	if configPath != "" {
		loaded, err := utils.LoadConfiguration(configPath)
		if err != nil {
			return err
		}
		config = config.Merge(loaded)
	}
	config = config.Merge(utils.Config{Workers: workers, MaxIterations: maxIterations, Output: output})
	if len(args) == 1 {
		config.Graph = args[0]
	}
	if config.Graph == "" {
		return errors.New("missing graph file")
	}

	store, err := graph.LoadResource(cmd.Context(), config.Graph)
	if err != nil {
		return err
	}
	opts := rank.Options{
		Damping:       config.Damping,
		Threshold:     config.Threshold,
		MaxIterations: config.MaxIterations,
		Workers:       config.Workers,
		Observer: func(iteration int, convergence float64) {
			utils.NodeLog("cli", "Iteration %d: convergence %g", iteration, convergence)
		},
	}
	report, err := rank.Compute(cmd.Context(), store, nil, opts)
	if err != nil {
		return err
	}
	if err := report.Write(cmd.OutOrStdout()); err != nil {
		return err
	}
	if config.Output != "" {
		return graph.RenderFile(config.Output, store, report.Ranks)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
