// Package engine wires the safety components into the single decision path
// the command layer calls: rate limiter, ban escalator, then the case
// ledger, with post-commit escalation running off the request path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warden-mod/warden/bypass"
	"github.com/warden-mod/warden/escalator"
	"github.com/warden-mod/warden/ledger"
	"github.com/warden-mod/warden/models"
	"github.com/warden-mod/warden/ratelimit"
)

// ModAction is one already-authorized moderation command.
type ModAction struct {
	GuildID     string
	ModeratorID string
	TargetID    string
	Kind        string
	Reason      string
	// zero means permanent
	Duration time.Duration
	// the real platform side-effect; gates whether the case is kept
	Enforce ledger.EnforceFunc
}

// Decision is the engine's answer to the command layer.
type Decision struct {
	Allowed    bool
	Blocked    bool
	Warning    string
	Message    string
	CaseNumber uint64
}

type Engine struct {
	Logger      *slog.Logger
	Ledger      *ledger.Service
	RateLimiter *ratelimit.Limiter
	Escalator   *escalator.Escalator
	Bypass      *bypass.Registry

	// post-commit escalation work in flight
	wg sync.WaitGroup
}

// ProcessAction runs the full decision path for one moderation command:
// rate-limiter check (kick/ban), escalator precheck (ban), transactional
// case commit, then asynchronous escalator re-evaluation.
func (eng *Engine) ProcessAction(ctx context.Context, act ModAction) (d *Decision, err error) {
	// enforcement callbacks are injected code; contain their panics
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("moderation action execution exception", "err", r, "guildID", act.GuildID, "kind", act.Kind)
			d, err = nil, fmt.Errorf("action execution panic: %v", r)
		}
	}()

	if !models.ValidAction(act.Kind) {
		return nil, fmt.Errorf("%w: %q", ledger.ErrUnknownAction, act.Kind)
	}
	start := time.Now()
	logger := eng.Logger.With("guildID", act.GuildID, "moderatorID", act.ModeratorID, "kind", act.Kind)

	var warning string
	if act.Kind == models.ActionKick || act.Kind == models.ActionBan {
		res, err := eng.RateLimiter.Track(ctx, act.GuildID, act.ModeratorID, act.Kind)
		if err != nil {
			return nil, err
		}
		if res.Blocked {
			actionsBlocked.WithLabelValues(act.Kind, "ratelimit").Inc()
			logger.Info("action blocked by rate limiter")
			return &Decision{Blocked: true, Message: "You are currently blocked from kick/ban actions. Ask an admin for a cooldown override."}, nil
		}
		warning = res.Warning
	}

	if act.Kind == models.ActionBan {
		res, err := eng.Escalator.PrecheckBan(ctx, act.GuildID, act.ModeratorID)
		if err != nil {
			return nil, err
		}
		if res.Blocked {
			actionsBlocked.WithLabelValues(act.Kind, "escalator").Inc()
			logger.Info("action blocked by escalator cooldown")
			return &Decision{Blocked: true, Message: res.Message}, nil
		}
	}

	caseNumber, err := eng.Ledger.CreateCase(ctx, ledger.CreateCaseParams{
		GuildID:     act.GuildID,
		TargetID:    act.TargetID,
		ModeratorID: act.ModeratorID,
		Action:      act.Kind,
		Reason:      act.Reason,
		Duration:    act.Duration,
	}, act.Enforce)
	if err != nil {
		return nil, err
	}

	if act.Kind == models.ActionBan {
		eng.trackBanAsync(ctx, act)
	}

	actionsProcessed.WithLabelValues(act.Kind).Inc()
	actionDuration.WithLabelValues(act.Kind).Observe(time.Since(start).Seconds())
	return &Decision{Allowed: true, Warning: warning, CaseNumber: caseNumber}, nil
}

// trackBanAsync re-evaluates the escalation windows after the case is
// committed. Alerts and cooldowns produced here only affect future actions,
// so the decision path never waits on them.
func (eng *Engine) trackBanAsync(ctx context.Context, act ModAction) {
	eng.wg.Add(1)
	go func() {
		defer eng.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*30)
		defer cancel()
		if _, err := eng.Escalator.TrackBan(ctx, act.GuildID, act.ModeratorID, act.TargetID, act.Reason); err != nil {
			eng.Logger.Error("post-commit ban escalation failed", "guildID", act.GuildID, "moderatorID", act.ModeratorID, "err", err)
		}
	}()
}

// Wait blocks until all in-flight post-commit escalation work has drained.
// Called on shutdown (and by tests).
func (eng *Engine) Wait() {
	eng.wg.Wait()
}
