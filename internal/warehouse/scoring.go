package warehouse

import (
	"math"
	"strings"
)

var gradeWeights = map[string]float64{
	"A": 1.0,
	"B": 0.8,
	"C": 0.6,
	"D": 0.4,
	"E": 0.2,
	"F": 0.1,
}

var stageBonus = map[string]float64{
	"closed":     10,
	"interested": 5,
	"qualified":  5,
	"contacted":  2,
	"lost":       -5,
}

// Score is the scoring_udf formula: activity scaled by grade, plus a stage
// bonus, rounded to two decimals. The Postgres migration defines the same
// function in SQL.
func Score(activity float64, grade, stage string) float64 {
	w, ok := gradeWeights[strings.ToUpper(strings.TrimSpace(grade))]
	if !ok {
		w = 0.05
	}
	s := activity*w + stageBonus[strings.ToLower(strings.TrimSpace(stage))]
	return math.Round(s*100) / 100
}
