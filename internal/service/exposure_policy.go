package service

import (
	"time"

	"github.com/spec-kit/exposure-service/internal/config"
	"github.com/spec-kit/exposure-service/internal/domain"
)

const day = 24 * time.Hour

// WindowPolicy holds the lookback window and restriction duration for each
// exposure degree. Degree 0 has no lookback.
type WindowPolicy struct {
	ConfirmedRestriction time.Duration
	DirectLookback       time.Duration
	DirectRestriction    time.Duration
	IndirectLookback     time.Duration
	IndirectRestriction  time.Duration
}

// DefaultWindowPolicy returns the 10 day / 10 day / 2 day policy.
func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{
		ConfirmedRestriction: 10 * day,
		DirectLookback:       10 * day,
		DirectRestriction:    10 * day,
		IndirectLookback:     2 * day,
		IndirectRestriction:  2 * day,
	}
}

// WindowPolicyFromConfig converts hour-based settings, keeping defaults for
// non-positive values.
func WindowPolicyFromConfig(cfg config.ExposureConfig) WindowPolicy {
	p := DefaultWindowPolicy()
	override := func(dst *time.Duration, hours int) {
		if hours > 0 {
			*dst = time.Duration(hours) * time.Hour
		}
	}
	override(&p.ConfirmedRestriction, cfg.ConfirmedRestrictionHours)
	override(&p.DirectLookback, cfg.DirectLookbackHours)
	override(&p.DirectRestriction, cfg.DirectRestrictionHours)
	override(&p.IndirectLookback, cfg.IndirectLookbackHours)
	override(&p.IndirectRestriction, cfg.IndirectRestrictionHours)
	return p
}

// Lookback returns the recency window used to find contacts at degree.
func (p WindowPolicy) Lookback(degree int) time.Duration {
	switch degree {
	case domain.DegreeDirect:
		return p.DirectLookback
	case domain.DegreeIndirect:
		return p.IndirectLookback
	}
	return 0
}

// Restriction returns how long a user classified at degree is restricted.
func (p WindowPolicy) Restriction(degree int) time.Duration {
	switch degree {
	case domain.DegreeConfirmed:
		return p.ConfirmedRestriction
	case domain.DegreeDirect:
		return p.DirectRestriction
	case domain.DegreeIndirect:
		return p.IndirectRestriction
	}
	return 0
}

// markPositive applies the unconditional self-report transition.
func markPositive(user *domain.User, until time.Time) {
	user.HealthStatus = domain.HealthStatusPositive
	user.ExposureDegree = domain.DegreeConfirmed
	user.RestrictedUntil = &until
}

// applyExposure classifies a contact at degree and reports whether anything
// changed. Positive users are never touched. An unexpired exposure keeps
// the closer degree and the later restriction end; an expired one is
// treated as healthy.
func applyExposure(user *domain.User, degree int, until, now time.Time) bool {
	if user.IsPositive() {
		return false
	}
	if !user.ActiveExposure(now) {
		user.HealthStatus = domain.HealthStatusExposed
		user.ExposureDegree = degree
		user.RestrictedUntil = &until
		return true
	}

	changed := false
	if degree < user.ExposureDegree {
		user.ExposureDegree = degree
		changed = true
	}
	if user.RestrictedUntil.Before(until) {
		user.RestrictedUntil = &until
		changed = true
	}
	return changed
}
