package allocation

import (
	"fmt"
	"strings"
	"time"
)

// Strategy names the source of the rotation counter.
type Strategy string

const (
	// StrategyLifetime counts every case ever created in the bucket.
	StrategyLifetime Strategy = "lifetime"
	// StrategyTrailingWindow counts bucket cases created within the window.
	StrategyTrailingWindow Strategy = "trailing-window"
	// StrategySameDay counts cases of the same type created today.
	StrategySameDay Strategy = "same-day"
	// StrategyCursor uses a persisted per-bucket cursor.
	StrategyCursor Strategy = "cursor"
)

const DefaultWindow = 30 * 24 * time.Hour

// ParseStrategy accepts a strategy name; empty selects the trailing window.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyTrailingWindow, nil
	case StrategyLifetime, StrategyTrailingWindow, StrategySameDay, StrategyCursor:
		return st, nil
	default:
		return "", fmt.Errorf("unknown rotation strategy %q", s)
	}
}

// CounterQuery describes which committed cases feed the counter.
type CounterQuery struct {
	Strategy      Strategy
	Bucket        Family
	CaseTypes     []CaseType
	Since         time.Time // zero means no lower bound
	ExcludeCaseID int64
}

// Select picks candidates[counter mod K].
func Select(candidates []Receiver, counter int64) (Receiver, error) {
	k := int64(len(candidates))
	if k == 0 {
		return Receiver{}, ErrNoEligibleReceiver
	}
	idx := counter % k
	if idx < 0 {
		idx += k
	}
	return candidates[idx], nil
}

// counterQuery builds the query for t at instant now.
func counterQuery(st Strategy, t CaseType, now time.Time, window time.Duration, loc *time.Location) CounterQuery {
	q := CounterQuery{Strategy: st, Bucket: FamilyOf(t), CaseTypes: TypesOf(FamilyOf(t))}
	switch st {
	case StrategyTrailingWindow:
		q.Since = now.Add(-window)
	case StrategySameDay:
		local := now.In(loc)
		q.Since = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		q.CaseTypes = []CaseType{t}
	}
	return q
}
