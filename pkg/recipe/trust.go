package recipe

import (
	"context"

	"github.com/cloudautopkg/runner/pkg/telemetry"
)

// TrustState is the trust-info verification state of a recipe.
type TrustState int

const (
	// TrustUntested means no verification ran since construction or the
	// last update.
	TrustUntested TrustState = iota

	// TrustFailed means verify-trust-info exited non-zero.
	TrustFailed

	// TrustTrusted means verify-trust-info succeeded.
	TrustTrusted
)

func (s TrustState) String() string {
	switch s {
	case TrustFailed:
		return "failed"
	case TrustTrusted:
		return "trusted"
	default:
		return "untested"
	}
}

// TrustState returns the current state without running anything.
func (r *Recipe) TrustState() TrustState { return r.trust }

// IsTrusted reports whether verification has succeeded.
func (r *Recipe) IsTrusted() bool { return r.trust == TrustTrusted }

// VerifyTrustInfo runs "autopkg verify-trust-info" unless the state is
// already known, and returns the resulting state. Tool failures only show
// up as TrustFailed.
func (r *Recipe) VerifyTrustInfo(ctx context.Context) TrustState {
	if r.trust != TrustUntested {
		return r.trust
	}

	ctx, span := r.env.Tracer.StartSpan(ctx, "recipe.verify_trust_info",
		telemetry.AttrRecipeName.String(r.Name()))
	defer span.End()

	r.logger.Debug().Msg("Verifying trust info")

	res, err := r.env.Tool.VerifyTrustInfo(ctx, r.Name(), r.overrideDir(), r.env.Settings.VerbosityFlag(0))
	switch {
	case err != nil:
		r.logger.Warn().Err(err).Msg("Trust info verification could not run")
		r.trust = TrustFailed
	case res.ExitCode != 0:
		r.logger.Warn().Int("exit_code", res.ExitCode).Msg("Trust info verification failed")
		r.trust = TrustFailed
	default:
		r.logger.Info().Msg("Trust info verification successful")
		r.trust = TrustTrusted
	}

	span.SetAttributes(telemetry.AttrTrustState.String(r.trust.String()))
	r.env.Metrics.RecordTrustVerification(r.trust.String())
	return r.trust
}

// UpdateTrustInfo runs "autopkg update-trust-info" and resets the state to
// TrustUntested whatever the outcome. It reports whether the update exited 0.
func (r *Recipe) UpdateTrustInfo(ctx context.Context) bool {
	r.logger.Debug().Msg("Updating trust info")

	res, err := r.env.Tool.UpdateTrustInfo(ctx, r.Name(), r.overrideDir())
	r.trust = TrustUntested

	if err != nil {
		r.logger.Warn().Err(err).Msg("Trust info update could not run")
		return false
	}
	if out := res.Stdout; out != "" {
		r.logger.Info().Msg(out)
	}
	if res.ExitCode != 0 {
		r.logger.Warn().Str("stderr", stderrOrUnknown(res.Stderr)).Msg("Trust info update failed")
		return false
	}

	r.logger.Info().Msg("Trust info update successful")
	return true
}
