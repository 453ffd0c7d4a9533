package models

// CategorySeries is a categorical numeric series handed to the chart renderer.
type CategorySeries struct {
	Label      string   `json:"label" msgpack:"label"`
	Categories []string `json:"categories" msgpack:"categories"`
	Counts     []int    `json:"counts" msgpack:"counts"`
}

// DistributionSeriesLabel is the legend used for the type distribution chart.
const DistributionSeriesLabel = "Equipment Count by Type"

// SeriesFromDistribution takes the distribution keys as categories and the
// values as counts, in iteration order.
func SeriesFromDistribution(d TypeDistribution) CategorySeries {
	s := CategorySeries{
		Label:      DistributionSeriesLabel,
		Categories: make([]string, 0, len(d)),
		Counts:     make([]int, 0, len(d)),
	}
	for _, tc := range d {
		s.Categories = append(s.Categories, tc.Type)
		s.Counts = append(s.Counts, tc.Count)
	}
	return s
}

// Len returns the number of categories.
func (s CategorySeries) Len() int {
	return len(s.Categories)
}
