package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trustplane/trustplane/pkg/accountability"
	"github.com/trustplane/trustplane/pkg/audit"
	"github.com/trustplane/trustplane/pkg/config"
	"github.com/trustplane/trustplane/pkg/delegation"
	"github.com/trustplane/trustplane/pkg/identity"
	"github.com/trustplane/trustplane/pkg/law"
	"github.com/trustplane/trustplane/pkg/ledger"
	"github.com/trustplane/trustplane/pkg/ratelimit"
	"github.com/trustplane/trustplane/pkg/trust"
	"github.com/trustplane/trustplane/pkg/witness"
)

// Deps are the collaborators every engine needs. Optional collaborators
// (law oracle, witness verifier, backpressure limiter) attach via setters.
type Deps struct {
	Identities     *identity.Registry
	Delegations    *delegation.Store
	Trust          *trust.Oracle
	Accountability *accountability.Registry
	Ledger         *ledger.Ledger
	Config         *config.Config
}

// Engine runs the per-request decision pipeline. It holds no per-request
// state; all shared mutable state lives in the collaborators, each guarded by
// its own lock.
type Engine struct {
	identities     *identity.Registry
	delegations    *delegation.Store
	trust          *trust.Oracle
	accountability *accountability.Registry
	ledger         *ledger.Ledger
	decisions      *audit.DecisionLog
	cfg            *config.Config

	lawOracle law.Oracle
	witnesses witness.Verifier
	limiter   ratelimit.LimiterStore
	policy    ratelimit.Policy

	clock   func() time.Time
	log     zerolog.Logger
	metrics *engineMetrics
}

// NewEngine assembles an engine over the given collaborators.
func NewEngine(deps Deps) *Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Load()
	}
	return &Engine{
		identities:     deps.Identities,
		delegations:    deps.Delegations,
		trust:          deps.Trust,
		accountability: deps.Accountability,
		ledger:         deps.Ledger,
		decisions:      audit.NewDecisionLog(),
		cfg:            cfg,
		policy:         ratelimit.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst},
		clock:          time.Now,
		log:            zerolog.Nop(),
		metrics:        newEngineMetrics(),
	}
}

// WithLawOracle attaches a law oracle. Without one, the law step is skipped.
func (e *Engine) WithLawOracle(o law.Oracle) *Engine {
	e.lawOracle = o
	return e
}

// WithWitnessVerifier attaches the verifier used by Confirm.
func (e *Engine) WithWitnessVerifier(v witness.Verifier) *Engine {
	e.witnesses = v
	return e
}

// WithLimiter attaches per-requester backpressure ahead of the
// per-delegation rolling window.
func (e *Engine) WithLimiter(s ratelimit.LimiterStore) *Engine {
	e.limiter = s
	return e
}

// WithClock overrides the clock for testing. The decision log shares it.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.decisions.WithClock(clock)
	return e
}

// WithLogger sets the operational logger.
func (e *Engine) WithLogger(log zerolog.Logger) *Engine {
	e.log = log
	return e
}

// Decisions exposes the append-only decision log for audit.
func (e *Engine) Decisions() *audit.DecisionLog {
	return e.decisions
}

// Authorize decides one request. It never returns an error; every failure
// path is a denied or deferred Result.
func (e *Engine) Authorize(ctx context.Context, req *Request) *Result {
	return e.decide(ctx, req, false)
}

// Confirm re-submits a previously deferred request with witness evidence.
// The attestation must verify (signature, expiry, unused nonce) before the
// pipeline re-runs with the oversight requirement satisfied.
func (e *Engine) Confirm(ctx context.Context, req *Request, att *witness.Attestation) *Result {
	if e.witnesses == nil {
		return e.finish(ctx, req, &Result{
			Decision:        DecisionDeferred,
			RequiresWitness: true,
			Message:         "no witness verifier configured",
		})
	}
	if ok, reason := e.witnesses.Verify(att); !ok {
		return e.finish(ctx, req, &Result{
			Decision:        DecisionDeferred,
			RequiresWitness: true,
			Message:         fmt.Sprintf("witness rejected: %s", reason),
		})
	}
	return e.decide(ctx, req, true)
}

func (e *Engine) decide(ctx context.Context, req *Request, witnessed bool) *Result {
	now := e.clock()

	if req.Cost < 0 {
		return e.deny(ctx, req, DenyBudgetExceeded, "cost must be non-negative", 0)
	}

	// 1. Identity.
	cred, err := e.identities.Resolve(req.RequesterID)
	if err != nil {
		return e.deny(ctx, req, DenyInvalidIdentity, fmt.Sprintf("unknown requester %s", req.RequesterID), 0)
	}

	// 2. Delegation.
	d, err := e.delegations.Get(req.DelegationID)
	if err != nil {
		return e.deny(ctx, req, DenyDelegationExpired, fmt.Sprintf("delegation %s not found", req.DelegationID), 0)
	}
	if !d.IsValid(now) {
		return e.deny(ctx, req, DenyDelegationExpired, "delegation expired or revoked", 0)
	}
	if d.AgentID != req.RequesterID {
		return e.deny(ctx, req, DenyDelegationExpired, "requester is not the delegation agent", 0)
	}

	// 3. Permission.
	if !d.HasPermission(req.Action) {
		return e.deny(ctx, req, DenyRoleMismatch,
			fmt.Sprintf("action %s not granted to role %s", req.Action, d.Role), 0)
	}

	// 4. Accountability.
	if allowed, reason := e.accountability.Check(req.RequesterID, req.Action, req.Cost, now); !allowed {
		return e.deny(ctx, req, DenyConstraintViolation, reason, 0)
	}

	// 5. Law. Deferral consumes nothing: budget and rate stay untouched
	// until the request comes back with evidence.
	if e.lawOracle != nil {
		lawCtx := make(map[string]any, len(req.Context)+1)
		for k, v := range req.Context {
			lawCtx[k] = v
		}
		lawCtx["cost"] = req.Cost
		if legal, reason := e.lawOracle.CheckActionLegality(req.Action, lawCtx, d.Role); !legal {
			return e.deny(ctx, req, DenyLawViolation, reason, 0)
		}
		if !witnessed && e.lawOracle.WitnessRequired(req.Action, lawCtx, d.Role) {
			wt := e.lawOracle.WitnessTypeFor(req.Action, lawCtx, d.Role)
			return e.finish(ctx, req, &Result{
				Decision:        DecisionDeferred,
				RequiresWitness: true,
				WitnessType:     wt,
				Message:         fmt.Sprintf("requires %s witness", wt),
			})
		}
	}

	// 6. Trust.
	score := e.trust.Score(ctx, req.RequesterID, cred.Organization, d.Role)
	threshold := e.cfg.TrustThresholdFor(d.Role)
	if score.Composite < threshold {
		r := &Result{
			Decision:      DecisionDenied,
			DenialReason:  DenyTrustBelowThreshold,
			Message:       fmt.Sprintf("trust %.2f below threshold %.2f for role %s", score.Composite, threshold, d.Role),
			RequiredTrust: threshold,
			ActualTrust:   score.Composite,
			ATPRemaining:  d.Remaining(),
		}
		return e.finish(ctx, req, r)
	}

	// 7. Backpressure ahead of the delegation window.
	if e.limiter != nil {
		ok, lerr := e.limiter.Allow(ctx, req.RequesterID, e.policy, 1)
		if lerr != nil {
			// Limiter backend failure fails closed.
			e.log.Warn().Err(lerr).Str("requester", req.RequesterID).Msg("limiter unavailable")
			ok = false
		}
		if !ok {
			return e.deny(ctx, req, DenyRateLimited, "request rate exceeded", score.Composite)
		}
	}

	// 7-8. Rolling window and budget, checked and committed in one critical
	// section per delegation so concurrent requests cannot both pass.
	switch d.Reserve(now, req.Cost) {
	case delegation.ReserveInvalid:
		return e.deny(ctx, req, DenyDelegationExpired, "delegation expired or revoked", score.Composite)
	case delegation.ReserveRateLimited:
		return e.deny(ctx, req, DenyRateLimited,
			fmt.Sprintf("delegation window full (%d per %s)", d.ActionsPerWindow, d.Window), score.Composite)
	case delegation.ReserveBudgetExceeded:
		return e.finish(ctx, req, &Result{
			Decision:      DecisionDenied,
			DenialReason:  DenyBudgetExceeded,
			Message:       fmt.Sprintf("cost %d exceeds remaining budget %d", req.Cost, d.Remaining()),
			RequiredTrust: threshold,
			ActualTrust:   score.Composite,
			ATPRemaining:  d.Remaining(),
		})
	}

	// The principal's account funds the action. A failed debit releases the
	// reservation so the delegation is not charged for work never funded.
	if !e.ledger.Account(d.PrincipalID).Debit(req.Cost) {
		d.Release(req.Cost)
		return e.finish(ctx, req, &Result{
			Decision:      DecisionDenied,
			DenialReason:  DenyBudgetExceeded,
			Message:       "insufficient account balance",
			RequiredTrust: threshold,
			ActualTrust:   score.Composite,
			ATPRemaining:  d.Remaining(),
		})
	}

	r := &Result{
		Decision:      DecisionGranted,
		RequiredTrust: threshold,
		ActualTrust:   score.Composite,
		ATPRemaining:  d.Remaining(),
	}
	return e.finish(ctx, req, r)
}

func (e *Engine) deny(ctx context.Context, req *Request, reason DenialReason, msg string, trustScore float64) *Result {
	return e.finish(ctx, req, &Result{
		Decision:     DecisionDenied,
		DenialReason: reason,
		Message:      msg,
		ActualTrust:  trustScore,
	})
}

// finish appends the outcome to the decision log and records metrics.
// Every path, including denials and deferrals, is logged.
func (e *Engine) finish(ctx context.Context, req *Request, r *Result) *Result {
	entry, err := e.decisions.Append(req.RequesterID, req.Action, string(r.Decision), string(r.DenialReason), r.ActualTrust, req.Cost)
	if err != nil {
		e.log.Warn().Err(err).Msg("decision log append failed")
	} else {
		r.LogHash = entry.Hash
	}
	e.metrics.record(ctx, r.Decision, r.DenialReason)
	e.log.Debug().
		Str("requester", req.RequesterID).
		Str("action", req.Action).
		Str("decision", string(r.Decision)).
		Str("reason", string(r.DenialReason)).
		Int64("cost", req.Cost).
		Msg("authorization decision")
	return r
}
