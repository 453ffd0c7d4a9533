package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chemdata-visualizer/client/internal/analysis"
	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/chart"
	"github.com/chemdata-visualizer/client/internal/export"
	"github.com/chemdata-visualizer/client/internal/models"
)

var (
	showRecords bool
	showChart   string
	showXLSX    string
)

var showCmd = &cobra.Command{
	Use:   "show <dataset-id>",
	Short: "Show the statistics of a dataset",
	Long: `Fetch the statistics and records of a dataset and print the summary.
The type distribution can be rendered as a bar chart, and the whole dataset
exported as an Excel workbook.

Examples:
  chemviz show 3
  chemviz show 3 --records
  chemviz show 3 --chart types.png --xlsx dataset_3.xlsx
  chemviz show 3 -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, v, err := openDataset(cmd, args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if showChart != "" {
			if err := writeChart(showChart, v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Chart written to %s\n", showChart)
		}
		if showXLSX != "" {
			if err := writeWorkbook(showXLSX, v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Workbook written to %s\n", showXLSX)
		}

		if showRecords {
			return render(cmd.OutOrStdout(), v.Records, recordTable(v.Records))
		}
		return render(cmd.OutOrStdout(), v.Stats, statsTable(v.DatasetID, v.Stats))
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <dataset-id>",
	Short: "Download the PDF report of a dataset",
	Long: `Download the PDF report of a dataset into the downloads directory as
report_<id>.pdf.

Examples:
  chemviz report 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := openDataset(cmd, args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Analysis.DownloadReport(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", info.Path, humanize.Bytes(uint64(info.Size)))
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showRecords, "records", false, "print the records instead of the summary")
	showCmd.Flags().StringVar(&showChart, "chart", "", "write the type distribution bar chart to this PNG file")
	showCmd.Flags().StringVar(&showXLSX, "xlsx", "", "write the dataset to this Excel file")
	rootCmd.AddCommand(showCmd, reportCmd)
}

// openDataset parses the id argument and loads the dataset's analysis.
// The caller closes the returned App.
func openDataset(cmd *cobra.Command, arg string) (*app.App, analysis.View, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return nil, analysis.View{}, fmt.Errorf("invalid dataset id %q", arg)
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, analysis.View{}, err
	}
	v, err := a.OpenDataset(cmd.Context(), id)
	if err != nil {
		a.Close()
		return nil, analysis.View{}, err
	}
	return a, v, nil
}

func writeChart(path string, v analysis.View) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	opts := chart.Options{Title: fmt.Sprintf("Dataset #%d: %s", v.DatasetID, models.DistributionSeriesLabel)}
	if err := chart.RenderBar(f, v.Series, opts); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}

func writeWorkbook(path string, v analysis.View) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteXLSX(f, v.DatasetID, v.Stats, v.Records); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write workbook: %w", err)
	}
	return f.Close()
}
