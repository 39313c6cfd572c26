package rules

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/eventbus"
	"example.com/afms/internal/metrics"
	"example.com/afms/internal/models"
	"example.com/afms/internal/repository"
)

// DefaultCacheTTL bounds how stale cached rule definitions may get
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	rules    []Rule
	loadedAt time.Time
}

// Engine loads versioned business rules, evaluates them against a runtime
// context and executes their actions. Rule and action failures are isolated
// per rule; the batch always runs to completion.
type Engine struct {
	rulesRepo repository.RuleRepository
	logRepo   repository.RuleExecutionLogRepository
	executors map[ActionType]ActionExecutor
	collector *metrics.Collector

	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[string]cacheEntry
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithCacheTTL overrides the rule cache TTL
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.cacheTTL = ttl }
}

// WithExecutor replaces the executor for one action type
func WithExecutor(actionType ActionType, executor ActionExecutor) EngineOption {
	return func(e *Engine) { e.executors[actionType] = executor }
}

// NewEngine creates a new rules engine. The bus may be nil; event-emitting
// actions then only log.
func NewEngine(rulesRepo repository.RuleRepository, logRepo repository.RuleExecutionLogRepository, bus *eventbus.Bus, collector *metrics.Collector, opts ...EngineOption) *Engine {
	e := &Engine{
		rulesRepo: rulesRepo,
		logRepo:   logRepo,
		executors: defaultExecutors(bus),
		collector: collector,
		cacheTTL:  DefaultCacheTTL,
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRules evaluates all active, time-valid rules for a category against
// the context, highest priority first.
func (e *Engine) ExecuteRules(ctx context.Context, category string, rctx Context) ([]ExecutionResult, error) {
	batchStart := time.Now()

	loaded, err := e.loadRules(ctx, category)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load rules for category %s", category)
	}

	results := make([]ExecutionResult, 0, len(loaded))
	executed := 0
	for _, rule := range loaded {
		result := e.executeRule(ctx, rule, rctx)
		if result.Executed {
			executed++
		}
		results = append(results, result)
		e.recordExecution(ctx, rule, rctx, result)
	}

	batchDuration := time.Since(batchStart)
	e.collector.RecordRuleBatch(category, len(loaded), executed, batchDuration)
	log.Info().
		Str("event_category", "performance").
		Str("category", category).
		Int("evaluated", len(loaded)).
		Int("executed", executed).
		Dur("duration", batchDuration).
		Msg("Rule batch completed")

	return results, nil
}

func (e *Engine) executeRule(ctx context.Context, rule Rule, rctx Context) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{RuleID: rule.ID, RuleName: rule.Name}

	if !EvaluateConditions(rule.Conditions, rctx) {
		result.Reason = "Conditions not met"
		result.Duration = time.Since(start)
		return result
	}

	result.Executed = true
	for _, action := range rule.Actions {
		actionResult := e.executeAction(ctx, rule, action, rctx)
		result.Actions = append(result.Actions, actionResult)

		if actionResult.Status == ActionStatusFailed {
			e.collector.IncrementCounter(metrics.CounterRuleActionsFailed, 1)
		}
		if actionResult.Status == ActionStatusBlocked {
			// The block action halts the rest of this rule's actions only
			log.Info().
				Str("rule_id", rule.ID).
				Str("reason", actionResult.Reason).
				Msg("Rule blocked further actions")
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (e *Engine) executeAction(ctx context.Context, rule Rule, action Action, rctx Context) ActionResult {
	executor, ok := e.executors[action.Type]
	if !ok {
		return ActionResult{
			Type:   action.Type,
			Status: ActionStatusFailed,
			Error:  "unknown action type: " + string(action.Type),
		}
	}
	return executor.Execute(ctx, rule, action, rctx)
}

// recordExecution writes one execution log row. Best-effort: a logging
// failure must not affect the batch.
func (e *Engine) recordExecution(ctx context.Context, rule Rule, rctx Context, result ExecutionResult) {
	if e.logRepo == nil {
		return
	}

	contextBytes, _ := json.Marshal(rctx)
	resultBytes, _ := json.Marshal(result)

	success := true
	for _, action := range result.Actions {
		if action.Status == ActionStatusFailed {
			success = false
			break
		}
	}

	entry := &models.RuleExecutionLog{
		RuleID:     rule.ID,
		Category:   rule.Category,
		Context:    contextBytes,
		Results:    resultBytes,
		Executed:   result.Executed,
		Success:    success,
		DurationMs: result.Duration.Milliseconds(),
	}
	if err := e.logRepo.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("rule_id", rule.ID).Msg("Failed to record rule execution")
	}
}

// loadRules returns the category's rules from cache, reloading from storage
// once the TTL has elapsed. A stale-but-unexpired read during a concurrent
// reload is acceptable; rule definitions change rarely.
func (e *Engine) loadRules(ctx context.Context, category string) ([]Rule, error) {
	e.mu.Lock()
	entry, ok := e.cache[category]
	e.mu.Unlock()

	if ok && time.Since(entry.loadedAt) < e.cacheTTL {
		return entry.rules, nil
	}

	rows, err := e.rulesRepo.FindActive(ctx, category, time.Now())
	if err != nil {
		return nil, err
	}

	loaded := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := decodeRule(row)
		if err != nil {
			log.Warn().Err(err).Str("rule_id", row.RuleID).Msg("Skipping undecodable rule")
			continue
		}
		loaded = append(loaded, rule)
	}

	e.mu.Lock()
	e.cache[category] = cacheEntry{rules: loaded, loadedAt: time.Now()}
	e.mu.Unlock()

	e.collector.SetGauge(metrics.GaugeActiveRules, float64(len(loaded)))
	log.Debug().Str("category", category).Int("count", len(loaded)).Msg("Rules loaded from storage")
	return loaded, nil
}

// ClearCache forces the next load to bypass the TTL and hit storage
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cacheEntry)
	log.Info().Msg("Rules cache cleared")
}

func decodeRule(row models.Rule) (Rule, error) {
	rule := Rule{
		ID:       row.RuleID,
		Name:     row.Name,
		Category: row.Category,
		Priority: row.Priority,
		Version:  row.Version,
	}
	if len(row.Conditions) > 0 {
		if err := json.Unmarshal(row.Conditions, &rule.Conditions); err != nil {
			return Rule{}, errors.Wrap(err, "failed to decode rule conditions")
		}
	}
	if len(row.Actions) > 0 {
		if err := json.Unmarshal(row.Actions, &rule.Actions); err != nil {
			return Rule{}, errors.Wrap(err, "failed to decode rule actions")
		}
	}
	return rule, nil
}
