package fingerprint

import "contextcache/pkg/types"

const (
	TagEngaged        = "engaged"
	TagHighEngagement = "high-engagement"

	engagedStreakDays   = 7
	highEngagementScore = 70
)

// Tags returns the coarse labels used to index uc for approximate matching.
// A level, activity and time tag is always present.
func Tags(uc types.UserContext) ([]string, error) {
	if err := Validate(uc); err != nil {
		return nil, err
	}
	return tagsOf(uc), nil
}

// SnapshotTags recomputes the tag set a stored snapshot was indexed under.
func SnapshotTags(s Snapshot) []string {
	return tagsOf(s.Context())
}

func tagsOf(uc types.UserContext) []string {
	tags := make([]string, 0, 6)
	tags = append(tags, "level:"+string(uc.SkillLevel))
	tags = append(tags, activityTag(uc.ScriptsCount))

	if uc.ConsecutiveDays > engagedStreakDays {
		tags = append(tags, TagEngaged)
	}
	if uc.EngagementScore > highEngagementScore {
		tags = append(tags, TagHighEngagement)
	}

	tags = append(tags, "time:"+string(uc.TimeOfDay))
	tags = append(tags, "day:"+string(uc.DayOfWeek))
	return tags
}

func activityTag(scripts int) string {
	switch {
	case scripts <= 0:
		return "no-scripts"
	case scripts < 5:
		return "few-scripts"
	case scripts < 20:
		return "moderate-scripts"
	default:
		return "many-scripts"
	}
}
