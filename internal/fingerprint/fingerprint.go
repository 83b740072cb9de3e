package fingerprint

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"contextcache/pkg/types"
)

// ErrInvalidContext is returned for a malformed or incomplete UserContext.
var ErrInvalidContext = errors.New("invalid user context")

const keyPrefix = "msg"

// Key is the structured exact-match key for a context. Similar contexts are
// meant to collide: the scripts count is reduced to its decade.
type Key struct {
	SkillLevel    types.SkillLevel
	FirstLogin    bool
	ScriptsBucket int
	TimeOfDay     types.TimeOfDay
	Tone          string
	Trend         types.Trend
}

// String renders the key stored in the entry store:
// msg_<skill>_<new|existing>_<bucket>_<time>_<tone>_<trend>
func (k Key) String() string {
	login := "existing"
	if k.FirstLogin {
		login = "new"
	}
	return strings.Join([]string{
		keyPrefix,
		string(k.SkillLevel),
		login,
		strconv.Itoa(k.ScriptsBucket),
		string(k.TimeOfDay),
		k.Tone,
		string(k.Trend),
	}, "_")
}

// Validate rejects contexts the cache cannot key reliably.
func Validate(uc types.UserContext) error {
	switch {
	case uc.SkillLevel.Ordinal() < 0:
		return fmt.Errorf("%w: skill level %q", ErrInvalidContext, uc.SkillLevel)
	case uc.ScriptsCount < 0:
		return fmt.Errorf("%w: scripts count %d", ErrInvalidContext, uc.ScriptsCount)
	case !uc.TimeOfDay.Valid():
		return fmt.Errorf("%w: time of day %q", ErrInvalidContext, uc.TimeOfDay)
	case !uc.DayOfWeek.Valid():
		return fmt.Errorf("%w: day of week %q", ErrInvalidContext, uc.DayOfWeek)
	case strings.TrimSpace(uc.Tone) == "" || strings.Contains(uc.Tone, "_"):
		return fmt.Errorf("%w: tone %q", ErrInvalidContext, uc.Tone)
	case !uc.ProductivityTrend.Valid():
		return fmt.Errorf("%w: productivity trend %q", ErrInvalidContext, uc.ProductivityTrend)
	case uc.ConsecutiveDays < 0:
		return fmt.Errorf("%w: consecutive days %d", ErrInvalidContext, uc.ConsecutiveDays)
	case math.IsNaN(uc.EngagementScore) || uc.EngagementScore < 0 || uc.EngagementScore > 100:
		return fmt.Errorf("%w: engagement score %v", ErrInvalidContext, uc.EngagementScore)
	}
	return nil
}

// BuildKey derives the exact-match key for uc.
func BuildKey(uc types.UserContext) (Key, error) {
	if err := Validate(uc); err != nil {
		return Key{}, err
	}
	return Key{
		SkillLevel:    uc.SkillLevel,
		FirstLogin:    uc.IsFirstLogin,
		ScriptsBucket: (uc.ScriptsCount / 10) * 10,
		TimeOfDay:     uc.TimeOfDay,
		Tone:          strings.TrimSpace(uc.Tone),
		Trend:         uc.ProductivityTrend,
	}, nil
}

// Of is BuildKey rendered as a string.
func Of(uc types.UserContext) (string, error) {
	k, err := BuildKey(uc)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}

// ParseKey splits a rendered key back into its parts. Used for log fields.
func ParseKey(s string) (Key, bool) {
	parts := strings.Split(s, "_")
	// time of day values may contain an underscore themselves
	if len(parts) < 7 || parts[0] != keyPrefix {
		return Key{}, false
	}
	bucket, err := strconv.Atoi(parts[3])
	if err != nil {
		return Key{}, false
	}
	n := len(parts)
	return Key{
		SkillLevel:    types.SkillLevel(parts[1]),
		FirstLogin:    parts[2] == "new",
		ScriptsBucket: bucket,
		TimeOfDay:     types.TimeOfDay(strings.Join(parts[4:n-2], "_")),
		Tone:          parts[n-2],
		Trend:         types.Trend(parts[n-1]),
	}, true
}
