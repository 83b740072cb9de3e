package fingerprint

import (
	"strings"

	"contextcache/pkg/types"
)

// Snapshot is the part of a UserContext stored alongside a cached message.
// Empty fields were not recorded and are left out of similarity scoring.
type Snapshot struct {
	SkillLevel        types.SkillLevel `json:"skillLevel,omitempty"`
	IsFirstLogin      *bool            `json:"isFirstLogin,omitempty"`
	ScriptsCount      int              `json:"scriptsCount"`
	TimeOfDay         types.TimeOfDay  `json:"timeOfDay,omitempty"`
	DayOfWeek         types.DayOfWeek  `json:"dayOfWeek,omitempty"`
	Tone              string           `json:"preferredMessageTone,omitempty"`
	ProductivityTrend types.Trend      `json:"productivityTrend,omitempty"`
	ConsecutiveDays   int              `json:"consecutiveDays"`
	EngagementScore   float64          `json:"engagementScore"`
}

// Capture copies the matching-relevant fields of uc. The tone is trimmed the
// same way the exact key trims it.
func Capture(uc types.UserContext) Snapshot {
	first := uc.IsFirstLogin
	return Snapshot{
		SkillLevel:        uc.SkillLevel,
		IsFirstLogin:      &first,
		ScriptsCount:      uc.ScriptsCount,
		TimeOfDay:         uc.TimeOfDay,
		DayOfWeek:         uc.DayOfWeek,
		Tone:              strings.TrimSpace(uc.Tone),
		ProductivityTrend: uc.ProductivityTrend,
		ConsecutiveDays:   uc.ConsecutiveDays,
		EngagementScore:   uc.EngagementScore,
	}
}

// Context widens the snapshot back to a UserContext. Missing fields are zero.
func (s Snapshot) Context() types.UserContext {
	uc := types.UserContext{
		SkillLevel:        s.SkillLevel,
		ScriptsCount:      s.ScriptsCount,
		TimeOfDay:         s.TimeOfDay,
		DayOfWeek:         s.DayOfWeek,
		Tone:              s.Tone,
		ProductivityTrend: s.ProductivityTrend,
		ConsecutiveDays:   s.ConsecutiveDays,
		EngagementScore:   s.EngagementScore,
	}
	if s.IsFirstLogin != nil {
		uc.IsFirstLogin = *s.IsFirstLogin
	}
	return uc
}

// Field weights for similarity scoring.
const (
	weightCritical  = 3
	weightImportant = 2
	weightSecondary = 1
)

// Similarity scores how closely a stored snapshot matches the query context,
// in [0,1]. Only fields present in the snapshot count toward the divisor.
func Similarity(query types.UserContext, stored Snapshot) float64 {
	var score, compared int

	match := func(weight int, present, equal bool) {
		if !present {
			return
		}
		compared += weight
		if equal {
			score += weight
		}
	}

	match(weightCritical, stored.SkillLevel != "", stored.SkillLevel == query.SkillLevel)
	match(weightCritical, stored.IsFirstLogin != nil,
		stored.IsFirstLogin != nil && *stored.IsFirstLogin == query.IsFirstLogin)

	match(weightImportant, stored.TimeOfDay != "", stored.TimeOfDay == query.TimeOfDay)
	match(weightImportant, stored.Tone != "", stored.Tone == strings.TrimSpace(query.Tone))

	match(weightSecondary, stored.ProductivityTrend != "", stored.ProductivityTrend == query.ProductivityTrend)
	match(weightSecondary, stored.DayOfWeek != "", stored.DayOfWeek == query.DayOfWeek)

	if compared == 0 {
		return 0
	}
	return float64(score) / float64(compared)
}
