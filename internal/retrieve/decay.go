// Package retrieve is the retrieval engine behind the RPC surface:
// reflect_on_past, store_reflection, get_full_conversation, and status,
// plus exponential time-decay re-ranking of search results.
package retrieve

import (
	"math"
	"time"
)

// UseDecay is the request-level tri-state: -1 means "use the server
// default", 0 disables regardless, 1 enables regardless.
type UseDecay int

const (
	UseDecayDefault UseDecay = -1
	UseDecayOff     UseDecay = 0
	UseDecayOn      UseDecay = 1
)

// DecayParams bundles the recency bonus weight and time scale.
type DecayParams struct {
	Enabled   bool
	Weight    float64
	ScaleDays int
}

// Resolve folds a request's use_decay tri-state against the server
// default to decide whether decay applies to this query.
func (p DecayParams) Resolve(use UseDecay) bool {
	switch use {
	case UseDecayOff:
		return false
	case UseDecayOn:
		return true
	default:
		return p.Enabled
	}
}

// Apply computes s' = s + w*exp(-dt/tau) for one candidate, given its
// timestamp and the query time. Both sides are forced to UTC before
// subtraction; comparing timestamps in mixed zones silently skews every
// age by the zone offset.
func Apply(score float32, pointTime, now time.Time, p DecayParams) float32 {
	tau := float64(p.ScaleDays) * 86400
	if tau <= 0 {
		tau = 90 * 86400
	}
	deltaT := now.UTC().Sub(pointTime.UTC()).Seconds()
	if deltaT < 0 {
		deltaT = 0
	}
	bonus := p.Weight * math.Exp(-deltaT/tau)
	return score + float32(bonus)
}
