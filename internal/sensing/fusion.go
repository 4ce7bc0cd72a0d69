package sensing

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	blinkAttention     = 30.0
	lookingAwayPenalty = 0.4
	confusedPenalty    = 0.75
)

var gazeCenter = mgl64.Vec2{0.5, 0.5}

// AttentionScore rates a single gaze sample on 0-100. A blink scores 30;
// otherwise the score falls linearly with distance from the center and
// reaches zero half a screen away.
func AttentionScore(g GazeSample) float64 {
	if g.Blinking {
		return blinkAttention
	}
	dist := mgl64.Vec2{g.X, g.Y}.Sub(gazeCenter).Len()
	return 100 * math.Max(0, 1-2*dist)
}

// Engagement weights for the blended face score.
const (
	weightCenter = 0.4
	weightEye    = 0.3
	weightLean   = 0.2
	weightSmile  = 0.1
)

// BaseEngagement blends face metrics into [0,1] before penalties.
func BaseEngagement(f FaceSample, maxDeviation float64) float64 {
	center := 0.0
	if maxDeviation > 0 {
		center = clamp01(1 - f.HorizontalDeviation/maxDeviation)
	}
	return clamp01(weightCenter*center +
		weightEye*clamp01(f.EyeOpenness) +
		weightLean*clamp01(f.ForwardLean) +
		weightSmile*clamp01(f.Smile))
}

// FuseEngagement applies the looking-away and confusion penalties to a
// base engagement. Penalties multiply.
func FuseEngagement(base float64, lookingAway, confused bool) float64 {
	e := clamp01(base)
	if lookingAway {
		e *= lookingAwayPenalty
	}
	if confused {
		e *= confusedPenalty
	}
	return clamp01(e)
}

func clamp01(v float64) float64 {
	return mgl64.Clamp(v, 0, 1)
}

// roundScore rounds a 0-100 score to one decimal.
func roundScore(v float64) float64 {
	return math.Round(v*10) / 10
}

// roundUnit rounds a 0-1 value to one decimal on the 0-100 scale.
func roundUnit(v float64) float64 {
	return math.Round(v*1000) / 1000
}
