package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/chemdata-visualizer/client/internal/models"
)

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, v interface{}, table func(tw *tabwriter.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

func datasetTable(datasets []models.Dataset) func(tw *tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tDATASET\tFILE\tUPLOADED")
		for _, ds := range datasets {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ds.ID, ds.Label(), ds.FileName(), humanize.Time(ds.UploadedAt))
		}
	}
}

func statsTable(id int, stats *models.DatasetStats) func(tw *tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Dataset\t#%d\n", id)
		fmt.Fprintf(tw, "Total Count\t%d\n", stats.TotalCount)
		fmt.Fprintf(tw, "Avg Flowrate\t%.2f\n", stats.AverageFlowrate)
		fmt.Fprintf(tw, "Avg Pressure\t%.2f\n", stats.AveragePressure)
		fmt.Fprintf(tw, "Avg Temperature\t%.2f\n", stats.AverageTemperature)
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "TYPE\tCOUNT")
		for _, tc := range stats.TypeDistribution {
			fmt.Fprintf(tw, "%s\t%d\n", tc.Type, tc.Count)
		}
	}
}

func recordTable(records []models.EquipmentRecord) func(tw *tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "EQUIPMENT NAME\tTYPE\tFLOWRATE\tPRESSURE\tTEMPERATURE")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%g\n", r.EquipmentName, r.EquipmentType, r.Flowrate, r.Pressure, r.Temperature)
		}
	}
}
