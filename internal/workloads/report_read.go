package workloads

import (
	"context"
	"fmt"

	"shopdb/internal/database"
	"shopdb/internal/reports"
)

// ReportRead runs one catalog report repeatedly. With a cached reporter it
// measures cache hits.
type ReportRead struct {
	Reporter database.Reporter
	Report   string
	Params   reports.Params

	report reports.Report
}

func (w *ReportRead) Name() string { return "report-read:" + w.Report }

func (w *ReportRead) Setup(ctx context.Context) error {
	r, ok := reports.Lookup(w.Report)
	if !ok {
		return fmt.Errorf("unknown report %q", w.Report)
	}
	w.report = r
	// One run up front surfaces missing parameters before the clock starts.
	_, err := r.Run(ctx, w.Reporter, w.Params)
	return err
}

func (w *ReportRead) Step(ctx context.Context) error {
	_, err := w.report.Run(ctx, w.Reporter, w.Params)
	return err
}
