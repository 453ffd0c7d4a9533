package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chemdata-visualizer/client/internal/apiclient"
	"github.com/chemdata-visualizer/client/internal/upload"
)

var datasetsCmd = &cobra.Command{
	Use:     "datasets",
	Aliases: []string{"ls"},
	Short:   "List uploaded datasets",
	Long: `List the datasets of the logged-in user, newest first. The scope can be
switched to every user's datasets with API.DatasetScope=global in the
config file.

Examples:
  chemviz datasets
  chemviz datasets -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ListDatasets(cmd.Context())
		if err != nil {
			if len(list) == 0 {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: showing a stale list: %s\n", apiclient.Reason(err))
		}
		if len(list) == 0 && outputFormat == "table" {
			fmt.Fprintln(cmd.OutOrStdout(), "No datasets uploaded yet")
			return nil
		}
		return render(cmd.OutOrStdout(), list, datasetTable(list))
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file.csv>",
	Short: "Upload an equipment CSV file",
	Long: `Upload a CSV file with the columns Equipment Name, Type, Flowrate,
Pressure and Temperature. The header is checked locally first unless
Upload.ValidateCSV is false in the config file.

Examples:
  chemviz upload equipment.csv
  chemviz sample -n 50 -f sample.csv && chemviz upload sample.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ds, err := a.UploadFile(cmd.Context(), upload.File{Name: filepath.Base(path), Data: data})
		if err != nil {
			return err
		}
		if ds == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s)\n", filepath.Base(path), humanize.Bytes(uint64(len(data))))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s (%s)\n", filepath.Base(path), ds.Label(), humanize.Bytes(uint64(len(data))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd, uploadCmd)
}
