package domain

import (
	"math"
	"sort"
)

// Bucket is a choropleth loss level.
type Bucket int

const (
	BucketNoLoss Bucket = iota
	BucketSlight
	BucketModerate
	BucketSevere
	BucketExtreme
)

var bucketStyles = [...]struct {
	color string
	label string
	name  string
}{
	BucketNoLoss:   {"#FFFFFF", "无损失", "none"},
	BucketSlight:   {"#FFEDA0", "轻微损失", "slight"},
	BucketModerate: {"#FEB24C", "中等损失", "moderate"},
	BucketSevere:   {"#FC4E2A", "严重损失", "severe"},
	BucketExtreme:  {"#B10026", "极重损失", "extreme"},
}

// Color returns the fill color for the bucket.
func (b Bucket) Color() string { return bucketStyles[b].color }

// Label returns the legend label for the bucket.
func (b Bucket) Label() string { return bucketStyles[b].label }

// String returns a stable ASCII name, used in exports and published messages.
func (b Bucket) String() string { return bucketStyles[b].name }

// LegendBuckets are the buckets shown in the map legend, lightest first.
func LegendBuckets() []Bucket {
	return []Bucket{BucketSlight, BucketModerate, BucketSevere, BucketExtreme}
}

// Classifier buckets a loss value against quartiles of one run's per-unit losses.
type Classifier struct {
	Q25 float64 `json:"q25"`
	Q50 float64 `json:"q50"`
	Q75 float64 `json:"q75"`
}

// NewClassifier computes quartile thresholds over losses. The input slice is not modified.
func NewClassifier(losses []float64) Classifier {
	sorted := make([]float64, 0, len(losses))
	for _, v := range losses {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	return Classifier{
		Q25: Quantile(sorted, 0.25),
		Q50: Quantile(sorted, 0.50),
		Q75: Quantile(sorted, 0.75),
	}
}

// NewClassifierFromSummary builds a classifier from the per-unit loss table.
func NewClassifierFromSummary(s LossSummary) Classifier {
	losses := make([]float64, len(s.Units))
	for i, u := range s.Units {
		losses[i] = u.Loss
	}
	return NewClassifier(losses)
}

// Classify maps a loss to its bucket. Zero and negative losses are always BucketNoLoss.
func (c Classifier) Classify(loss float64) Bucket {
	switch {
	case loss <= 0 || math.IsNaN(loss):
		return BucketNoLoss
	case loss < c.Q25:
		return BucketSlight
	case loss < c.Q50:
		return BucketModerate
	case loss < c.Q75:
		return BucketSevere
	default:
		return BucketExtreme
	}
}

// Quantile returns the p-quantile of an ascending slice using linear
// interpolation between the closest ranks, h = (n-1)·p. Empty input yields 0.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
