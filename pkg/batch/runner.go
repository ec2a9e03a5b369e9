package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudautopkg/runner/pkg/policy"
	"github.com/cloudautopkg/runner/pkg/recipe"
	"github.com/cloudautopkg/runner/pkg/telemetry"
)

// DefaultMaxConcurrency applies when Runner.MaxConcurrency is not positive.
const DefaultMaxConcurrency = 10

// PolicyEvaluator is the policy gate. *policy.Engine implements it.
type PolicyEvaluator interface {
	EvaluateRecipe(ctx context.Context, recipe *policy.RecipeInput, pctx *policy.PolicyContext) (*policy.PolicyResult, error)
}

// Runner executes recipes through their gates and pipelines with a bounded
// worker pool.
type Runner struct {
	// Env is shared by every recipe of the batch.
	Env *recipe.Env

	// Policy is optional; nil disables the policy gate.
	Policy PolicyEvaluator

	// Events is optional.
	Events *telemetry.EventPublisher

	// ReportDir overrides Env.Settings.ReportDir when set.
	ReportDir string

	// VerifyTrust blocks recipes whose trust info does not verify.
	VerifyTrust bool

	// MaxConcurrency bounds how many pipelines run at once.
	MaxConcurrency int

	// AutoPkgVersion is compared with each recipe's MinimumVersion. When nil
	// it is queried from Env.Tool once per batch; if that fails the gate is
	// disabled for the batch.
	AutoPkgVersion *semver.Version

	Logger zerolog.Logger
}

// NewRunner returns a Runner with settings-derived defaults.
func NewRunner(env *recipe.Env, logger zerolog.Logger) *Runner {
	return &Runner{
		Env:            env,
		VerifyTrust:    env.Settings.VerifyTrust,
		MaxConcurrency: env.Settings.MaxConcurrency,
		Logger:         logger.With().Str("component", "batch").Logger(),
	}
}

type job struct {
	index int
	name  string
}

// Run processes every name and returns one Result per name in input order.
// A recipe that fails never stops the others. Recipes not started before ctx
// is cancelled are reported with StatusError.
func (b *Runner) Run(ctx context.Context, names []string) []Result {
	batchID := uuid.New().String()
	logger := b.Logger.With().Str("batch_id", batchID).Logger()
	results := make([]Result, len(names))
	if len(names) == 0 {
		return results
	}

	ctx, span := b.Env.Tracer.StartSpan(ctx, "batch.run",
		telemetry.AttrBatchID.String(batchID),
		telemetry.AttrRecipeCount.Int(len(names)),
	)
	defer span.End()

	start := time.Now()
	b.publish(telemetry.Event{
		Type:    telemetry.EventTypeBatchStarted,
		BatchID: batchID,
		Message: fmt.Sprintf("Batch started with %d recipes", len(names)),
		Level:   telemetry.EventLevelInfo,
	})
	logger.Info().Int("recipes", len(names)).Msg("Starting batch")

	version := b.autopkgVersion(ctx, logger)

	workerCount := b.MaxConcurrency
	if workerCount <= 0 {
		workerCount = DefaultMaxConcurrency
	}
	if len(names) < workerCount {
		workerCount = len(names)
	}

	workQueue := make(chan job, len(names))
	for i, name := range names {
		workQueue <- job{index: i, name: name}
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := range workQueue {
				if err := ctx.Err(); err != nil {
					results[j.index] = Result{
						BatchID: batchID,
						Recipe:  j.name,
						Status:  StatusError,
						Err:     err,
						Reason:  err.Error(),
					}
					continue
				}
				results[j.index] = b.supervise(ctx, batchID, j.name, version, logger)
			}
		}()
	}
	wg.Wait()

	summary := Summary(results)
	b.publish(telemetry.Event{
		Type:    telemetry.EventTypeBatchCompleted,
		BatchID: batchID,
		Message: fmt.Sprintf("Batch completed: %d succeeded, %d failed, %d skipped, %d errored",
			summary.Succeeded, summary.Failed, summary.Skipped, summary.Errored),
		Level: telemetry.EventLevelInfo,
		Data: map[string]interface{}{
			"total":    summary.Total,
			"duration": time.Since(start).Seconds(),
		},
	})
	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("errored", summary.Errored).
		Dur("duration", time.Since(start)).
		Msg("Batch completed")

	return results
}

// supervise runs one recipe and converts a panic into a StatusError result.
func (b *Runner) supervise(ctx context.Context, batchID, name string, version *semver.Version, logger zerolog.Logger) (res Result) {
	res = Result{BatchID: batchID, Recipe: name, StartedAt: time.Now()}
	logger = logger.With().Str("recipe", name).Logger()

	b.Env.Metrics.RecordRecipeStarted(name)
	_ = b.Events.PublishRecipeStarted(batchID, name)

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Recipe panicked")
			res.fail(fmt.Errorf("panic: %v", p))
		}
		res.Duration = time.Since(res.StartedAt)
		b.Env.Metrics.RecordRecipeCompleted(string(res.Status), res.Duration)

		switch res.Status {
		case StatusSkipped:
			_ = b.Events.PublishRecipeSkipped(batchID, name, res.Gate, res.Reason)
		case StatusError:
			_ = b.Events.PublishRecipeFailed(batchID, name, res.Reason)
		case StatusFailed:
			_ = b.Events.PublishRecipeFailed(batchID, name, "autopkg reported failures")
		default:
			_ = b.Events.PublishRecipeCompleted(batchID, name, len(res.Report.DownloadedItems), res.Duration)
		}
	}()

	b.process(ctx, &res, version, logger)
	return res
}

func (b *Runner) process(ctx context.Context, res *Result, version *semver.Version, logger zerolog.Logger) {
	r, err := recipe.Load(res.Recipe, b.Env)
	if err != nil {
		b.Env.Metrics.RecordError(errorKind(err))
		logger.Error().Err(err).Msg("Failed to load recipe")
		res.fail(err)
		return
	}

	if !b.policyGate(ctx, res, r, version, logger) {
		return
	}
	if !b.versionGate(res, r, version, logger) {
		return
	}
	if !b.trustGate(ctx, res, r, logger) {
		return
	}

	// Skipped recipes never get a report file.
	if err := r.ReserveReport(b.ReportDir); err != nil {
		logger.Error().Err(err).Msg("Failed to reserve report path")
		res.fail(err)
		return
	}
	res.ReportPath = r.ReportPath()

	out, err := r.Run(ctx)
	res.Trust = r.TrustState().String()
	if err != nil {
		logger.Error().Err(err).Msg("Recipe run failed")
		res.fail(err)
		return
	}

	res.Report = out
	if out.HasFailures() {
		res.Status = StatusFailed
		res.Reason = out.FailedItems[0].Message
		logger.Warn().Int("failures", len(out.FailedItems)).Msg("Recipe finished with failures")
		return
	}
	res.Status = StatusSucceeded
	logger.Info().Int("downloads", len(out.DownloadedItems)).Msg("Recipe finished")
}

func (b *Runner) policyGate(ctx context.Context, res *Result, r *recipe.Recipe, version *semver.Version, logger zerolog.Logger) bool {
	if b.Policy == nil {
		return true
	}

	pctx := &policy.PolicyContext{Operation: "run"}
	if version != nil {
		pctx.AutoPkgVersion = version.String()
	}

	pr, err := b.Policy.EvaluateRecipe(ctx, policy.NewRecipeInput(r), pctx)
	if err != nil {
		b.Env.Metrics.RecordError("policy")
		logger.Error().Err(err).Msg("Policy evaluation failed")
		res.fail(fmt.Errorf("policy evaluation: %w", err))
		return false
	}

	res.Warnings = pr.Warnings
	for _, w := range pr.Warnings {
		logger.Warn().Str("policy", w.Policy).Msg(w.Message)
	}
	if pr.Allowed {
		return true
	}

	res.Violations = pr.Violations
	reasons := make([]string, 0, len(pr.Violations))
	for _, v := range pr.Violations {
		_ = b.Events.PublishPolicyViolation(res.BatchID, res.Recipe, v.Policy, v.Message)
		reasons = append(reasons, v.Policy+": "+v.Message)
	}
	b.Env.Metrics.RecordError("policy")
	logger.Warn().Int("violations", len(pr.Violations)).Msg("Recipe blocked by policy")
	res.skip(GatePolicy, strings.Join(reasons, "; "))
	return false
}

func (b *Runner) versionGate(res *Result, r *recipe.Recipe, version *semver.Version, logger zerolog.Logger) bool {
	if version == nil || r.MinimumVersion() == "" {
		return true
	}

	minimum, err := semver.NewVersion(r.MinimumVersion())
	if err != nil {
		b.Env.Metrics.RecordError("minimum_version")
		res.skip(GateMinimumVersion, fmt.Sprintf("invalid MinimumVersion %q", r.MinimumVersion()))
		return false
	}
	if version.LessThan(minimum) {
		b.Env.Metrics.RecordError("minimum_version")
		logger.Warn().
			Str("required", minimum.String()).
			Str("installed", version.String()).
			Msg("Recipe requires a newer autopkg")
		res.skip(GateMinimumVersion, fmt.Sprintf("requires autopkg %s, found %s", minimum, version))
		return false
	}
	return true
}

func (b *Runner) trustGate(ctx context.Context, res *Result, r *recipe.Recipe, logger zerolog.Logger) bool {
	if !b.VerifyTrust {
		return true
	}

	state := r.VerifyTrustInfo(ctx)
	res.Trust = state.String()
	if state == recipe.TrustTrusted {
		return true
	}

	b.Env.Metrics.RecordError("trust")
	logger.Warn().Str("trust", state.String()).Msg("Recipe blocked by trust verification")
	res.skip(GateTrust, "trust info verification failed")
	return false
}

func (b *Runner) autopkgVersion(ctx context.Context, logger zerolog.Logger) *semver.Version {
	if b.AutoPkgVersion != nil {
		return b.AutoPkgVersion
	}
	if b.Env.Tool == nil {
		return nil
	}

	v, err := b.Env.Tool.Version(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not determine autopkg version, minimum version gate disabled")
		return nil
	}
	logger.Debug().Str("autopkg_version", v.String()).Msg("Detected autopkg version")
	return v
}

func (b *Runner) publish(event telemetry.Event) {
	if err := b.Events.Publish(event); err != nil {
		b.Logger.Debug().Err(err).Str("event", event.Type).Msg("Failed to publish event")
	}
}
