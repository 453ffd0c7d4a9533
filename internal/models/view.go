package models

import "fmt"

// ViewKind identifies the active top-level view.
type ViewKind string

const (
	ViewLogin     ViewKind = "login"
	ViewDashboard ViewKind = "dashboard"
	ViewAnalysis  ViewKind = "analysis"
)

// ViewState is the navigation state. DatasetID is only set for ViewAnalysis.
type ViewState struct {
	Kind      ViewKind `json:"kind"`
	DatasetID int      `json:"datasetId,omitempty"`
}

// LoginView returns the Login state.
func LoginView() ViewState { return ViewState{Kind: ViewLogin} }

// DashboardView returns the Dashboard state.
func DashboardView() ViewState { return ViewState{Kind: ViewDashboard} }

// AnalysisView returns the Analysis state for a dataset.
func AnalysisView(datasetID int) ViewState {
	return ViewState{Kind: ViewAnalysis, DatasetID: datasetID}
}

func (v ViewState) String() string {
	if v.Kind == ViewAnalysis {
		return fmt.Sprintf("analysis(%d)", v.DatasetID)
	}
	return string(v.Kind)
}
