package review

import "fmt"

// Rank is the user's progression aggregate. The backend owns the record; the
// client derives the display label from the numeric level.
type Rank struct {
	Level            int       `json:"level"`
	Label            string    `json:"label"`
	CurrentScore     float64   `json:"currentScore"`
	TotalSubmissions int       `json:"totalSubmissions"`
	HighScores       []float64 `json:"highScores"`
}

// RankLabel maps a numeric level to its kyu/dan style label. Levels 1-10 are
// descending kyu (level 1 = 10級), 11-13 ascending dan, 14 is 師範代 and
// everything above is 師範. Total over all integers >= 1; inputs below 1 are
// clamped to 1.
func RankLabel(level int) string {
	if level < 1 {
		level = 1
	}
	switch {
	case level <= 10:
		return fmt.Sprintf("%d級", 11-level)
	case level <= 13:
		return fmt.Sprintf("%d段", level-10)
	case level == 14:
		return "師範代"
	default:
		return "師範"
	}
}

// DefaultRank is the rank of a user with no aggregate record yet.
func DefaultRank() Rank {
	return Rank{Level: 1, Label: RankLabel(1), HighScores: []float64{}}
}
