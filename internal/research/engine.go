package research

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/model"
)

// EngineConfig tunes session execution.
type EngineConfig struct {
	ToolTimeout time.Duration // per-invocation timeout
	LeaseTTL    time.Duration
	RatePerSec  float64 // tool invocations per second across the engine
}

// DefaultEngineConfig returns the standard execution limits.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ToolTimeout: 30 * time.Second,
		LeaseTTL:    5 * time.Minute,
		RatePerSec:  2,
	}
}

// Engine drives research sessions: plan, then execute tool steps
// sequentially under the session's consent ceiling. Sessions are independent
// and may run concurrently; within one session execution is single-threaded
// and guarded by a lease.
type Engine struct {
	store    Store
	entities entity.Store
	planner  Planner
	cfg      EngineConfig
	limiter  *rate.Limiter
	holder   string
}

// NewEngine wires an Engine. A nil planner falls back to the static planner.
func NewEngine(store Store, entities entity.Store, planner Planner, cfg EngineConfig) *Engine {
	if planner == nil {
		planner = StaticPlanner{}
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultEngineConfig().ToolTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultEngineConfig().LeaseTTL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultEngineConfig().RatePerSec
	}

	hostname, _ := os.Hostname()
	return &Engine{
		store:    store,
		entities: entities,
		planner:  planner,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		holder:   fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
	}
}

// Create records a new pending session.
func (e *Engine) Create(ctx context.Context, query string, depth int, ceiling model.ConsentLevel) (*Session, error) {
	sess := &Session{Query: query, Depth: depth, MaxConsentLevel: ceiling}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	zap.L().Info("research session created",
		zap.String("session_id", sess.ID),
		zap.Int("depth", sess.Depth),
		zap.String("ceiling", string(sess.MaxConsentLevel)),
	)
	return sess, nil
}

// Run drives a pending session to a terminal state. Exactly one driver can
// run a session at a time; a second concurrent Run returns a conflict.
func (e *Engine) Run(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, model.NewConflictError("research session", sessionID,
			fmt.Sprintf("already %s", sess.Status))
	}

	ok, err := e.store.AcquireLease(ctx, sessionID, e.holder, e.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewConflictError("research session", sessionID,
			"another driver holds the execution lease")
	}
	defer func() {
		if err := e.store.ReleaseLease(context.WithoutCancel(ctx), sessionID, e.holder); err != nil {
			zap.L().Warn("lease release failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()

	if err := e.store.MarkPlanning(ctx, sessionID); err != nil {
		return nil, err
	}

	tools := Toolset(NewGraphReader(e.entities, sess.MaxConsentLevel))
	toolNames := make([]string, len(tools))
	for i, t := range tools {
		toolNames[i] = t.Name()
	}
	index, err := toolIndex(tools)
	if err != nil {
		return e.fail(ctx, sessionID, err.Error())
	}

	plan, err := e.planner.Plan(ctx, sess, toolNames)
	if err != nil || len(plan) == 0 {
		return e.fail(ctx, sessionID, "plan generation produced no steps")
	}
	if err := e.store.RecordPlan(ctx, sessionID, plan); err != nil {
		return nil, err
	}
	if err := e.store.MarkExecuting(ctx, sessionID); err != nil {
		return nil, err
	}

	succeeded, seq := 0, 0
	var lastErr string
	for _, step := range plan {
		if ctx.Err() != nil {
			return e.fail(context.WithoutCancel(ctx), sessionID,
				fmt.Sprintf("cancelled before step %q: %v", step.Tool, ctx.Err()))
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return e.fail(context.WithoutCancel(ctx), sessionID,
				fmt.Sprintf("cancelled waiting for rate limit: %v", err))
		}

		tool, ok := index[step.Tool]
		if !ok {
			lastErr = fmt.Sprintf("unknown tool %q", step.Tool)
			e.log(ctx, sessionID, step.Tool, 0, false, lastErr)
			continue
		}

		findings, duration, err := e.invoke(ctx, tool, step.Query)
		if err != nil {
			// A single failed step is absorbed; the log entry carries it.
			up := &model.UpstreamError{Source: step.Tool, Err: err}
			lastErr = up.Error()
			e.log(ctx, sessionID, step.Tool, duration, false, lastErr)
			continue
		}
		e.log(ctx, sessionID, step.Tool, duration, true, "")
		succeeded++

		for _, f := range findings {
			f.SessionID = sessionID
			f.Seq = seq
			seq++
			if err := e.store.AppendFinding(ctx, &f); err != nil {
				return e.fail(ctx, sessionID, eris.ToString(err, false))
			}
		}
	}

	if succeeded == 0 {
		return e.fail(ctx, sessionID,
			fmt.Sprintf("all %d planned tool calls failed: %s", len(plan), lastErr))
	}

	results := fmt.Sprintf("%d of %d steps succeeded, %d findings recorded",
		succeeded, len(plan), seq)
	if err := e.store.MarkCompleted(ctx, sessionID, results); err != nil {
		return nil, err
	}
	zap.L().Info("research session completed",
		zap.String("session_id", sessionID),
		zap.Int("steps", len(plan)),
		zap.Int("findings", seq),
	)
	return e.store.GetSession(ctx, sessionID)
}

// SubmitFeedback records the feedback slot on a terminal session. Repeated
// submissions overwrite; status never changes.
func (e *Engine) SubmitFeedback(ctx context.Context, sessionID string, fb Feedback) error {
	return e.store.SetFeedback(ctx, sessionID, fb)
}

// invoke runs one tool call under its own timeout. A timeout is a tool
// failure, not a session failure.
func (e *Engine) invoke(ctx context.Context, tool Tool, query string) ([]Finding, int64, error) {
	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	findings, err := tool.Invoke(toolCtx, query)
	duration := time.Since(start).Milliseconds()
	return findings, duration, err
}

func (e *Engine) log(ctx context.Context, sessionID, tool string, duration int64, success bool, errMsg string) {
	entry := &ToolLog{
		SessionID: sessionID,
		Tool:      tool,
		Duration:  duration,
		Success:   success,
		Error:     errMsg,
	}
	if err := e.store.AppendToolLog(ctx, entry); err != nil {
		zap.L().Error("tool log append failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (e *Engine) fail(ctx context.Context, sessionID, reason string) (*Session, error) {
	if err := e.store.MarkFailed(ctx, sessionID, reason); err != nil {
		return nil, err
	}
	zap.L().Warn("research session failed",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
	)
	return e.store.GetSession(ctx, sessionID)
}
