package core

// ReportStore keeps the reports of finished runs, keyed by run ID.
type ReportStore interface {
	Save(report FinalReport) error
	Get(runID string) (FinalReport, error)
	List() []string
}
