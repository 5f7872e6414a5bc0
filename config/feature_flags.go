package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Feature flag names.
const (
	FeatureLiveLeaderboard = "league.live_leaderboard" // WebSocket push after recomputes
	FeatureBadges          = "league.badges"           // Badge evaluation in the weekly batch
	FeaturePublicNames     = "league.public_names"     // Members may opt out of masking
	FeaturePartnerReports  = "accountability.partner_reports"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// FeatureFlags switches optional surfaces on per user. A flag is rolled out
// to a percentage of users; a user lands in the same bucket on every call.
// A nil *FeatureFlags enables everything.
type FeatureFlags struct {
	mu        sync.RWMutex
	rollout   map[string]int
	overrides map[shared.UserID]map[string]bool
}

// LoadFeatureFlags starts from everything on and applies the environment
// (or CONFIG_FILE when loaded through Load):
//
//	FEATURE_LEAGUE_PUBLIC_NAMES=false   switch off
//	FEATURE_LEAGUE_PUBLIC_NAMES=25      25% of users
//	FEATURE_OVERRIDES=alice:league.live_leaderboard=true,bob:league.badges=false
//
// Malformed values are ignored.
func LoadFeatureFlags() *FeatureFlags {
	return loadFeatureFlags(&source{})
}

func loadFeatureFlags(src *source) *FeatureFlags {
	ff := &FeatureFlags{
		rollout:   make(map[string]int),
		overrides: make(map[shared.UserID]map[string]bool),
	}
	for _, name := range []string{FeatureLiveLeaderboard, FeatureBadges, FeaturePublicNames, FeaturePartnerReports} {
		ff.rollout[name] = 100
		if p, ok := parseRollout(src.str(envKey(name), "")); ok {
			ff.rollout[name] = p
		}
	}
	for _, item := range src.list("FEATURE_OVERRIDES", nil) {
		user, rest, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		name, val, ok := strings.Cut(rest, "=")
		on, err := strconv.ParseBool(val)
		if !ok || err != nil {
			continue
		}
		ff.SetUserOverride(shared.UserID(user), name, on)
	}
	return ff
}

// envKey maps "league.live_leaderboard" to FEATURE_LEAGUE_LIVE_LEADERBOARD.
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func parseRollout(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if b, err := strconv.ParseBool(v); err == nil {
		if b {
			return 100, true
		}
		return 0, true
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// Enabled is the global switch: on when any share of users has the flag.
func (ff *FeatureFlags) Enabled(name string) bool {
	return ff.EnabledFor(name, "")
}

// EnabledFor decides for one user. An empty user checks the global switch.
func (ff *FeatureFlags) EnabledFor(name string, user shared.UserID) bool {
	if ff == nil {
		return true
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[user][name]; ok && user != "" {
		return on
	}
	p, ok := ff.rollout[name]
	switch {
	case !ok || p == 0:
		return false
	case p == 100 || user == "":
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(user))
	return int(h.Sum32()%100) < p
}

func (ff *FeatureFlags) SetUserOverride(user shared.UserID, name string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.overrides[user] == nil {
		ff.overrides[user] = make(map[string]bool)
	}
	ff.overrides[user][name] = on
}

func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.rollout[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.rollout[name] = percent
	return nil
}
