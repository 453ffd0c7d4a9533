package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chemdata-visualizer/client/internal/parser"
)

var (
	sampleRows int
	sampleSeed int64
	sampleFile string
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Generate a sample equipment CSV file",
	Long: `Write a CSV file with random but plausible equipment readings, ready
for "chemviz upload". Does not contact the backend.

Examples:
  chemviz sample -n 25 -f sample.csv
  chemviz sample --seed 42 > sample.csv`,
	Args: cobra.NoArgs,
	// Needs neither config nor logger
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if sampleRows <= 0 {
			return fmt.Errorf("row count must be positive, got %d", sampleRows)
		}
		seed := sampleSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))

		var w io.Writer = cmd.OutOrStdout()
		if sampleFile != "" {
			f, err := os.Create(sampleFile)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := parser.GenerateSample(w, sampleRows, rng); err != nil {
			return err
		}
		if sampleFile != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d rows to %s\n", sampleRows, sampleFile)
		}
		return nil
	},
}

func init() {
	sampleCmd.Flags().IntVarP(&sampleRows, "rows", "n", 20, "number of rows")
	sampleCmd.Flags().Int64Var(&sampleSeed, "seed", 0, "random seed (default: time based)")
	sampleCmd.Flags().StringVarP(&sampleFile, "file", "f", "", "output file (default: stdout)")
	rootCmd.AddCommand(sampleCmd)
}
