package types

// SkillLevel is the user's assessed proficiency, ordered beginner..expert.
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
	SkillExpert       SkillLevel = "expert"
)

// Ordinal returns the rank of the level, or -1 for an unknown level.
func (s SkillLevel) Ordinal() int {
	switch s {
	case SkillBeginner:
		return 0
	case SkillIntermediate:
		return 1
	case SkillAdvanced:
		return 2
	case SkillExpert:
		return 3
	default:
		return -1
	}
}

type TimeOfDay string

const (
	EarlyMorning TimeOfDay = "early_morning"
	Morning      TimeOfDay = "morning"
	Afternoon    TimeOfDay = "afternoon"
	Evening      TimeOfDay = "evening"
	Night        TimeOfDay = "night"
	LateNight    TimeOfDay = "late_night"
)

func (t TimeOfDay) Valid() bool {
	switch t {
	case EarlyMorning, Morning, Afternoon, Evening, Night, LateNight:
		return true
	}
	return false
}

type DayOfWeek string

const (
	Monday    DayOfWeek = "monday"
	Tuesday   DayOfWeek = "tuesday"
	Wednesday DayOfWeek = "wednesday"
	Thursday  DayOfWeek = "thursday"
	Friday    DayOfWeek = "friday"
	Saturday  DayOfWeek = "saturday"
	Sunday    DayOfWeek = "sunday"
)

func (d DayOfWeek) Valid() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

func (t Trend) Valid() bool {
	switch t {
	case TrendIncreasing, TrendStable, TrendDecreasing:
		return true
	}
	return false
}

// UserContext is the situation snapshot a message is produced for.
// The cache only reads it.
type UserContext struct {
	SkillLevel        SkillLevel `json:"skillLevel"`
	IsFirstLogin      bool       `json:"isFirstLogin"`
	ScriptsCount      int        `json:"scriptsCount"`
	TimeOfDay         TimeOfDay  `json:"timeOfDay"`
	DayOfWeek         DayOfWeek  `json:"dayOfWeek"`
	Tone              string     `json:"preferredMessageTone"`
	ProductivityTrend Trend      `json:"productivityTrend"`
	ConsecutiveDays   int        `json:"consecutiveDays"`
	EngagementScore   float64    `json:"engagementScore"`
}
