package main

import (
	"context"

	"solfind/services/recon"
)

type reconView struct {
	RunDate     string          `json:"runDate"`
	DryRun      bool            `json:"dryRun"`
	Checked     int             `json:"checked"`
	Promoted    int             `json:"promoted"`
	Abandoned   int             `json:"abandoned"`
	Settled     int             `json:"settled"`
	Skipped     int             `json:"skipped"`
	Failed      int             `json:"failed"`
	Anomalies   []recon.Anomaly `json:"anomalies"`
	CSVPath     string          `json:"csvPath,omitempty"`
	ParquetPath string          `json:"parquetPath,omitempty"`
}

func (c *cli) runReconcile(ctx context.Context, args []string) int {
	fs := newFlagSet("reconcile", c.stderr)
	var dryRun bool
	fs.BoolVar(&dryRun, "dry-run", false, "report differences without repairing listings")
	if !c.parseFlags(fs, args) {
		return 1
	}
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	reconciler, err := stack.Reconciler(dryRun)
	if err != nil {
		return c.fail(err)
	}
	res, err := reconciler.Run(ctx, recon.RunOptions{DryRun: dryRun})
	if err != nil {
		return c.fail(err)
	}
	anomalies := res.Anomalies
	if anomalies == nil {
		anomalies = []recon.Anomaly{}
	}
	return c.writeJSON(reconView{
		RunDate:     res.RunDate,
		DryRun:      res.DryRun,
		Checked:     len(res.Rows),
		Promoted:    res.Promoted,
		Abandoned:   res.Abandoned,
		Settled:     res.Settled,
		Skipped:     res.Skipped,
		Failed:      res.Failed,
		Anomalies:   anomalies,
		CSVPath:     res.CSVPath,
		ParquetPath: res.ParquetPath,
	})
}
