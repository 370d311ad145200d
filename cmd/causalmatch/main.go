// causalmatch runs propensity score analyses described by a YAML study
// config and prints the resulting ATT and balance tables.  The export
// subcommand writes the scored, weighted analysis sample to a parquet
// file for downstream plotting tools.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/kshedden/causalmatch"
	"github.com/spf13/cobra"
)

var configPath string

func main() {

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "causalmatch",
		Short:         "Propensity score matching and treatment effect estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML study config")
	if err := root.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	root.AddCommand(attCmd(logger), balanceCmd(logger), exportCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadStudy reads the config and the dataset it points at.
func loadStudy() (*causalmatch.StudyConfig, *causalmatch.Dataset, error) {

	cfg, err := causalmatch.LoadStudyConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	ds, err := causalmatch.Load(cfg.Path, cfg.Schema)
	if err != nil {
		return nil, nil, err
	}

	return cfg, ds, nil
}

func attCmd(logger *slog.Logger) *cobra.Command {

	return &cobra.Command{
		Use:   "att",
		Short: "Run all estimators and print the results table",
		RunE: func(cmd *cobra.Command, args []string) error {

			cfg, ds, err := loadStudy()
			if err != nil {
				return err
			}
			logger.Info("loaded dataset", "study", cfg.Name, "units", ds.Len(), "dropped", ds.Dropped())

			res := causalmatch.RunStudy(ds, cfg, logger)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "Method\tPairs\tATT")
			for _, m := range res.Methods {
				fmt.Fprintf(w, "%s\t%d\t%.4f\n", m.Method, m.Pairs, m.ATT)
			}
			return w.Flush()
		},
	}
}

func balanceCmd(logger *slog.Logger) *cobra.Command {

	return &cobra.Command{
		Use:   "balance",
		Short: "Print covariate balance before and after matching",
		RunE: func(cmd *cobra.Command, args []string) error {

			cfg, ds, err := loadStudy()
			if err != nil {
				return err
			}

			res := causalmatch.RunStudy(ds, cfg, logger)
			if res.Balance == nil {
				return fmt.Errorf("no matched pairs; balance table is unavailable")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "Covariate\tTreated mean\tControl mean (before)\tControl mean (after)\tStdDiff (before)\tStdDiff (after)")
			for _, row := range res.Balance {
				fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
					row.Name, row.Before.MeanA, row.Before.MeanB, row.After.MeanB,
					row.Before.StdDiff, row.After.StdDiff)
			}
			return w.Flush()
		},
	}
}

func exportCmd(logger *slog.Logger) *cobra.Command {

	var caliper float64
	var withReplacement bool

	cmd := &cobra.Command{
		Use:   "export <outfile.parquet>",
		Short: "Write the scored and weighted matched sample to a parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {

			cfg, ds, err := loadStudy()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("caliper") {
				cfg.Caliper = caliper
			}

			model, err := causalmatch.FitPropensity(ds.DesignMatrix(), ds.TreatmentVector())
			if err != nil {
				return err
			}
			scores, err := model.Predict(ds.DesignMatrix())
			if err != nil {
				return err
			}
			scored, err := ds.WithScores(scores)
			if err != nil {
				return err
			}

			treated, control := scored.Split()
			ms := causalmatch.Match(treated, control, causalmatch.MatchSpec{
				Order:           causalmatch.OrderAscending,
				Seed:            cfg.Seed,
				Caliper:         cfg.Caliper,
				WithReplacement: withReplacement,
			})
			logger.Info("matched sample", "study", cfg.Name, "pairs", ms.Len())

			return causalmatch.ExportParquet(ms.Sample(cfg.Schema), args[0])
		},
	}
	cmd.Flags().Float64Var(&caliper, "caliper", 0, "override the config caliper (0 disables)")
	cmd.Flags().BoolVar(&withReplacement, "replace", false, "match with replacement")

	return cmd
}
