// Package match implements the Match Engine: one matching cycle's
// widen-stage derivation, bot-mode signaling, and oldest-first reciprocal
// pairing scan, per spec §4.5.
package match

import "github.com/chorus-party/matchmaking/internal/v1/queue"

// Widen-stage thresholds, canonical per spec §9 (other revisions used
// 5/10/15/30s; this implementation fixes 5/10/30).
const (
	widenStage1ThresholdMs = 5000
	widenStage2ThresholdMs = 10000
	botModeThresholdMs     = 30000
)

// DeriveWidenStage derives a waiter's widen stage from how long it has
// waited: 0 strict, 1 ignore location, 2 also ignore gender. DIAMOND tier
// never implicitly widens past stage 1 (never drops its gender filter).
func DeriveWidenStage(waitMs int64, tier queue.Tier) int {
	if waitMs <= widenStage1ThresholdMs {
		return 0
	}
	if waitMs <= widenStage2ThresholdMs || tier == queue.TierDiamond {
		return 1
	}
	return 2
}

// ShouldStartBotMode reports whether a waiter crosses the 30s threshold and
// has not yet been flagged, per spec §4.5 step 4 (idempotent, at-most-once).
func ShouldStartBotMode(waitMs int64, botModeActive bool) bool {
	return waitMs > botModeThresholdMs && !botModeActive
}

// effectiveTarget returns the gender a seeker currently accepts, and
// whether that is a concrete restriction at all ("any" when false).
// userTarget(X) = X.preferences.gender if set, else opposite-of-X.gender
// if X.widenStage<2, else any.
func effectiveTarget(u *queue.User) (wanted string, restricted bool) {
	if u.Preferences.Gender != "" {
		return u.Preferences.Gender, true
	}
	if u.WidenStage < 2 {
		if u.Gender == "male" {
			return "female", true
		}
		return "male", true
	}
	return "", false
}

func acceptsGender(seeker *queue.User, candidateGender string) bool {
	wanted, restricted := effectiveTarget(seeker)
	if !restricted {
		return true
	}
	return wanted == candidateGender
}

// Eligible implements the §4.5 step 6 reciprocal-preference table exactly:
// self-exclusion, reciprocal gender, symmetric location checks, and strict
// mode equality.
func Eligible(u, c *queue.User) bool {
	if u.UID == c.UID {
		return false
	}
	if u.Mode != c.Mode {
		return false
	}
	if !acceptsGender(u, string(c.Gender)) {
		return false
	}
	if !acceptsGender(c, string(u.Gender)) {
		return false
	}
	if u.Preferences.Location != "" && u.WidenStage < 1 && c.Location != u.Preferences.Location {
		return false
	}
	if c.Preferences.Location != "" && c.WidenStage < 1 && u.Location != c.Preferences.Location {
		return false
	}
	return true
}
