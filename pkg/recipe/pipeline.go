package recipe

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudautopkg/runner/pkg/report"
	"github.com/cloudautopkg/runner/pkg/telemetry"
)

// Phase names used in logs, spans and metrics.
const (
	PhaseCheck = "check"
	PhaseFull  = "full"
)

// Run executes the check phase and, only if it found downloads, records
// their metadata in the cache and executes the full phase. The returned
// report belongs to the last phase that ran.
func (r *Recipe) Run(ctx context.Context) (out report.ConsolidatedReport, err error) {
	ctx, span := r.env.Tracer.StartRecipeSpan(ctx, r.Name())
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(telemetry.AttrRecipeFormat.String(r.Format().String()))

	out, err = r.RunCheckPhase(ctx)
	if err != nil {
		return report.ConsolidatedReport{}, err
	}
	if !out.HasDownloads() {
		r.logger.Debug().Msg("No new downloads, skipping full run")
		return out, nil
	}

	if err := r.saveMetadata(ctx, out.DownloadedItems); err != nil {
		return report.ConsolidatedReport{}, err
	}

	return r.RunFull(ctx)
}

// RunCheckPhase runs "autopkg run --check" and compiles the report.
func (r *Recipe) RunCheckPhase(ctx context.Context) (report.ConsolidatedReport, error) {
	return r.runPhase(ctx, PhaseCheck)
}

// RunFull runs "autopkg run" and compiles the report.
func (r *Recipe) RunFull(ctx context.Context) (report.ConsolidatedReport, error) {
	return r.runPhase(ctx, PhaseFull)
}

func (r *Recipe) runPhase(ctx context.Context, phase string) (out report.ConsolidatedReport, err error) {
	if r.report == nil {
		return report.ConsolidatedReport{}, ErrNoReport
	}

	ctx, span := r.env.Tracer.StartPhaseSpan(ctx, r.Name(), phase)
	defer func() { telemetry.EndSpan(span, err) }()

	r.logger.Debug().Str("phase", phase).Msg("Running autopkg")

	start := time.Now()
	res, err := r.env.Tool.Run(ctx, r.Name(), r.ReportPath(), r.env.Settings.VerbosityFlag(-1), phase == PhaseCheck)
	if err != nil {
		r.env.Metrics.RecordError("autopkg_launch")
		return report.ConsolidatedReport{}, fmt.Errorf("%s phase of %s: %w", phase, r.Name(), err)
	}

	r.env.Metrics.RecordPhase(phase, res.ExitCode, time.Since(start))
	span.SetAttributes(telemetry.AttrExitCode.Int(res.ExitCode))

	if res.ExitCode != 0 {
		r.logger.Warn().
			Str("phase", phase).
			Int("exit_code", res.ExitCode).
			Str("stderr", stderrOrUnknown(res.Stderr)).
			Msg("autopkg exited with an error")
	}

	out, err = r.CompileReport()
	if err != nil {
		r.env.Metrics.RecordError("report_parse")
		return report.ConsolidatedReport{}, err
	}
	return out, nil
}

// saveMetadata collects fingerprints for items and stores them under the
// recipe's name. It returns only after the store finished.
func (r *Recipe) saveMetadata(ctx context.Context, items []report.DownloadedItem) error {
	ctx, span := r.env.Tracer.StartSpan(ctx, "recipe.collect_metadata",
		telemetry.AttrRecipeName.String(r.Name()))

	rc, err := r.env.Collector.Collect(ctx, items)
	if err != nil {
		telemetry.EndSpan(span, err)
		r.env.Metrics.RecordError("metadata_collect")
		return fmt.Errorf("failed to collect metadata for %s: %w", r.Name(), err)
	}
	span.SetAttributes(telemetry.AttrDownloads.Int(len(rc.Metadata)))
	r.env.Metrics.RecordDownloads(r.Name(), len(rc.Metadata))

	err = r.env.Store.Save(ctx, r.Name(), rc)
	r.env.Metrics.RecordCacheSave(r.env.Store.Name(), err)
	telemetry.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to save metadata for %s: %w", r.Name(), err)
	}

	r.logger.Info().Int("downloads", len(rc.Metadata)).Msg("Saved download metadata")
	return nil
}
