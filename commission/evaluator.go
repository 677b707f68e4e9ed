/*
evaluator.go - Commission arithmetic

PURPOSE:
  The core of the engine: applies base rules to a deal's direct
  participants (setter, closer) and override rules to each qualifying
  upline level, producing unpersisted commission line items with computed
  amounts and full rule provenance.

SELECTION SEMANTICS:
  - Base: first matching rule (by sort order) per participant. No match
    means no base commission for that person - expected, not an error.
  - Override: walk the participant's snapshot chain from level 1 upward;
    first matching rule per level. A level with no rule produces no line
    and DOES NOT stop the walk: a mid-level role may be deliberately
    excluded from overrides while the level above is included.
  - At most one line per (person, rule) pair per run. A self-gen deal
    where setter == closer matches the same base rule twice; the setter
    line wins and the duplicate is dropped.

ARITHMETIC:
  Decimal-exact, no floating point. Percent and per-kW amounts are
  rounded to 2 decimal places half-up exactly once, at line creation.
  An unrecognized calc method on a MATCHED rule aborts the whole deal:
  a partial commission set is worse than none, and operators must fix
  the rule before anyone gets paid.
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// ComputeAmount applies a rule's calc method to the deal.
func ComputeAmount(rule *CommissionRule, deal *Deal) (decimal.Decimal, error) {
	switch rule.Method {
	case CalcFlat:
		return rule.Amount, nil
	case CalcPercentOfValue:
		return RoundCurrency(rule.Amount.Div(oneHundred).Mul(deal.Value)), nil
	case CalcRatePerKW:
		return RoundCurrency(rule.Amount.Mul(deal.SystemSizeKW)), nil
	default:
		return decimal.Zero, &UnrecognizedCalcMethodError{RuleID: rule.ID, Method: rule.Method}
	}
}

// Evaluator turns a deal plus its org snapshots into commission lines.
type Evaluator struct {
	People   PersonStore
	Resolver *PlanResolver
	Matcher  *RuleMatcher

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// participant is one of the deal's direct sellers plus their chain.
type participant struct {
	person   *Person
	source   OverrideSource
	snapshot *OrgSnapshot
}

// Evaluate computes every commission line for the deal. Pure with respect
// to commission state: nothing is persisted, statuses are all pending.
//
// snapshots maps root person ID to that person's org snapshot; setter and
// closer share one entry when they are the same person.
func (e *Evaluator) Evaluate(ctx context.Context, deal *Deal, snapshots map[PersonID]*OrgSnapshot) ([]Commission, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	participants, err := e.participants(ctx, deal, snapshots)
	if err != nil {
		return nil, err
	}

	var lines []Commission
	produced := make(map[PersonID]map[RuleID]bool)

	addLine := func(c Commission) {
		if produced[c.PersonID] == nil {
			produced[c.PersonID] = make(map[RuleID]bool)
		}
		if produced[c.PersonID][c.RuleID] {
			return // same person, same rule, already paid this run
		}
		produced[c.PersonID][c.RuleID] = true
		lines = append(lines, c)
	}

	// 1. Base commissions for the direct participants.
	for _, p := range participants {
		line, err := e.baseLine(ctx, deal, p, now())
		if err != nil {
			return nil, err
		}
		if line != nil {
			addLine(*line)
		}
	}

	// 2. Override commissions up each participant's chain.
	for _, p := range participants {
		for level := 1; level <= p.snapshot.Depth(); level++ {
			link := p.snapshot.At(level)
			if link == nil {
				continue
			}
			line, err := e.overrideLine(ctx, deal, p, link, level, now())
			if err != nil {
				return nil, err
			}
			if line != nil {
				addLine(*line)
			}
		}
	}

	return lines, nil
}

func (e *Evaluator) participants(ctx context.Context, deal *Deal, snapshots map[PersonID]*OrgSnapshot) ([]participant, error) {
	roles := []struct {
		id     PersonID
		source OverrideSource
	}{
		{deal.SetterID, SourceSetter},
		{deal.CloserID, SourceCloser},
	}

	var out []participant
	for _, r := range roles {
		person, err := e.People.GetPerson(ctx, r.id)
		if err != nil {
			return nil, err
		}
		snap, ok := snapshots[r.id]
		if !ok {
			return nil, fmt.Errorf("no org snapshot for %s %s", r.source, r.id)
		}
		out = append(out, participant{person: person, source: r.source, snapshot: snap})
	}
	return out, nil
}

// baseLine computes the participant's own commission, if any.
func (e *Evaluator) baseLine(ctx context.Context, deal *Deal, p participant, matchedAt time.Time) (*Commission, error) {
	plan, err := e.Resolver.ResolveActive(ctx, p.person.ID, deal.CloseDate)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil // no active plan: person earns nothing, caller skips
	}

	rule, err := e.Matcher.First(ctx, plan.ID, deal, MatchQuery{
		Type:       RuleBase,
		TargetRole: p.person.RoleID,
	})
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}

	amount, err := ComputeAmount(rule, deal)
	if err != nil {
		return nil, err
	}

	return &Commission{
		ID:        CommissionID(uuid.NewString()),
		DealID:    deal.ID,
		PersonID:  p.person.ID,
		Type:      string(p.source) + " base",
		Amount:    amount,
		Status:    StatusPending,
		PayPlanID: plan.ID,
		RuleID:    rule.ID,
		Details: CalcDetails{
			OrgSnapshotID: p.snapshot.ID,
			RuleID:        rule.ID,
			MatchedAt:     matchedAt,
			Inputs: CalcInputs{
				DealValue:    deal.Value,
				SystemSizeKW: deal.SystemSizeKW,
			},
		},
		CreatedAt: matchedAt,
		UpdatedAt: matchedAt,
	}, nil
}

// overrideLine computes the level-N payout on p's chain, if any.
func (e *Evaluator) overrideLine(ctx context.Context, deal *Deal, p participant, link *ChainLink, level int, matchedAt time.Time) (*Commission, error) {
	upline, err := e.People.GetPerson(ctx, link.PersonID)
	if err != nil {
		return nil, err
	}

	plan, err := e.Resolver.ResolveActive(ctx, upline.ID, deal.CloseDate)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}

	rule, err := e.Matcher.First(ctx, plan.ID, deal, MatchQuery{
		Type:       RuleOverride,
		TargetRole: upline.RoleID,
		Source:     p.source,
		Level:      level,
	})
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}

	amount, err := ComputeAmount(rule, deal)
	if err != nil {
		return nil, err
	}

	lvl := level
	src := p.source
	return &Commission{
		ID:        CommissionID(uuid.NewString()),
		DealID:    deal.ID,
		PersonID:  upline.ID,
		Type:      fmt.Sprintf("%s override L%d", p.source, level),
		Amount:    amount,
		Status:    StatusPending,
		PayPlanID: plan.ID,
		RuleID:    rule.ID,
		Details: CalcDetails{
			OrgSnapshotID: p.snapshot.ID,
			RuleID:        rule.ID,
			MatchedAt:     matchedAt,
			Inputs: CalcInputs{
				DealValue:      deal.Value,
				SystemSizeKW:   deal.SystemSizeKW,
				OverrideLevel:  &lvl,
				OverrideSource: &src,
			},
		},
		CreatedAt: matchedAt,
		UpdatedAt: matchedAt,
	}, nil
}
