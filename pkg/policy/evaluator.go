// Package policy evaluates payment-shaped requests against a policy
// configuration. Evaluation is a pure mapping from (policy, request) to
// a verdict; the only internal state is a cache of compiled CEL guard
// programs.
//
// The evaluator is fail-closed throughout: a malformed policy, a
// malformed amount, or a guard that errors all produce tier-4 denials.
package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/reason"
)

// Verdict is the evaluation outcome. RequiresHITL mandates escalation to
// human review before the action may proceed.
type Verdict struct {
	Decision     contracts.Decision
	Tier         int
	RequiresHITL bool
	Reasons      []string
}

// Evaluator holds the CEL environment and compiled-guard cache.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds an evaluator with the guard environment. The guard
// expression sees a single `request` variable carrying the envelope and
// payment fields.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// MustNewEvaluator panics on environment construction failure, which is
// a programmer error.
func MustNewEvaluator() *Evaluator {
	e, err := NewEvaluator()
	if err != nil {
		panic(err)
	}
	return e
}

func deny(code string) Verdict {
	return Verdict{Decision: contracts.DecisionDeny, Tier: 4, Reasons: []string{code}}
}

// Evaluate maps pol and in to a verdict. Checks run in a fixed order:
// policy validity, amount validity, guard, daily spend limit, category
// allowlist, allowed hours, then the max-transaction tier ladder.
func (e *Evaluator) Evaluate(pol contracts.Policy, in *contracts.RequestInput) Verdict {
	if !finite(pol.MaxTransaction) || !finite(pol.DailySpendLimit) {
		return deny(reason.CodeInvalidPolicy)
	}
	window, err := parseWindow(pol.AllowedHours)
	if err != nil {
		return deny(reason.CodeInvalidPolicy)
	}

	if in.Payment == nil || !finite(in.Payment.Amount) || in.Payment.Amount < 0 {
		return deny(reason.CodeInvalidRequest)
	}
	amount := in.Payment.Amount

	if pol.Guard != "" {
		ok, err := e.evalGuard(pol.Guard, in)
		if err != nil {
			return deny(reason.CodeInvalidPolicy)
		}
		if !ok {
			return deny(reason.CodeGuardDenied)
		}
	}

	// Daily limit is checked before category and hours.
	if amount > pol.DailySpendLimit {
		return deny(reason.CodeDailyLimitExceeded)
	}
	if len(pol.AllowedCategories) > 0 && in.Payment.Category != "" {
		if !contains(pol.AllowedCategories, in.Payment.Category) {
			return deny(reason.CodeCategoryNotAllowed)
		}
	}
	if window != nil {
		hour := time.UnixMilli(in.TimestampMS).UTC()
		if !window.contains(hour) {
			return deny(reason.CodeOutsideAllowedHours)
		}
	}

	tier := 1
	reasons := []string{reason.CodeWithinLimits}
	if amount > pol.MaxTransaction {
		// Past double the per-transaction cap the request is out of
		// review range entirely; only the band between max and 2x max is
		// escalatable.
		if amount > 2*pol.MaxTransaction {
			return deny(reason.CodeMaxTransactionExceeded)
		}
		tier = 3
		reasons = []string{reason.CodeMaxTransactionExceeded}
	}
	return Verdict{
		Decision:     contracts.DecisionAllow,
		Tier:         tier,
		RequiresHITL: tier >= 3,
		Reasons:      reasons,
	}
}

func (e *Evaluator) evalGuard(expr string, in *contracts.RequestInput) (bool, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prg, hit = e.cache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("policy: guard compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("policy: guard program: %w", err)
			}
			e.cache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	input := map[string]any{
		"request": map[string]any{
			"principal": in.PrincipalID,
			"agent":     in.AgentID,
			"tenant":    in.TenantID,
			"action":    string(in.ActionType),
			"amount":    in.Payment.Amount,
			"category":  in.Payment.Category,
			"currency":  in.Payment.Currency,
		},
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("policy: guard eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: guard result is not bool")
	}
	return val, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// hourWindow is an inclusive-start, exclusive-end window over minutes of
// the day. "00:00-24:00" covers the full day.
type hourWindow struct {
	startMin int
	endMin   int
}

func (w *hourWindow) contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if w.startMin <= w.endMin {
		return minute >= w.startMin && minute < w.endMin
	}
	// Window wraps midnight, e.g. "22:00-06:00".
	return minute >= w.startMin || minute < w.endMin
}

// parseWindow parses "HH:MM-HH:MM". An empty string means no window and
// returns (nil, nil).
func parseWindow(s string) (*hourWindow, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("policy: malformed hour window %q", s)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return nil, err
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return nil, err
	}
	return &hourWindow{startMin: start, endMin: end}, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("policy: malformed time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("policy: malformed hour %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("policy: malformed minute %q", s)
	}
	// 24 is only valid as the end-of-day marker 24:00.
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("policy: malformed time %q", s)
	}
	return h*60 + m, nil
}
