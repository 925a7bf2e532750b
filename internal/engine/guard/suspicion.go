package guard

import (
	"sort"
	"time"

	"pdiquest/internal/domain"
)

// Suspicion is an advisory gaming score; it never blocks a submission.
type Suspicion struct {
	Score          float64  `json:"score"`
	Flagged        bool     `json:"flagged"`
	Reasons        []string `json:"reasons"`
	Submissions24h int      `json:"submissions_24h"`
	RejectionRate  float64  `json:"rejection_rate"`
}

const (
	burstLimit       = 10
	varietySample    = 10
	varietyMinimum   = 5
	varietyDistinct  = 2
	rejectionMinimum = 10
)

// Weights are in tenths of a point.
const (
	burstWeight     = 3
	varietyWeight   = 4
	rejectionWeight = 3
	flagThreshold   = 6
)

// Assess scores a submission history for gaming patterns.
func Assess(history []domain.SubmissionRecord, now time.Time) Suspicion {
	s := Suspicion{Reasons: []string{}}
	points := 0

	dayAgo := now.Add(-24 * time.Hour)
	for _, r := range history {
		if r.SubmittedAt.After(dayAgo) && !r.SubmittedAt.After(now) {
			s.Submissions24h++
		}
	}
	if s.Submissions24h > burstLimit {
		points += burstWeight
		s.Reasons = append(s.Reasons, "more than 10 submissions in 24 hours")
	}

	recent := append([]domain.SubmissionRecord(nil), history...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].SubmittedAt.After(recent[j].SubmittedAt) })
	if len(recent) > varietySample {
		recent = recent[:varietySample]
	}
	if len(recent) >= varietyMinimum {
		distinct := map[string]bool{}
		for _, r := range recent {
			distinct[r.ActionID] = true
		}
		if len(distinct) <= varietyDistinct {
			points += varietyWeight
			s.Reasons = append(s.Reasons, "low action variety in recent submissions")
		}
	}

	if len(history) > 0 {
		rejected := 0
		for _, r := range history {
			if r.Status == domain.OutcomeRejected {
				rejected++
			}
		}
		s.RejectionRate = float64(rejected) / float64(len(history))
		if len(history) >= rejectionMinimum && rejected*2 > len(history) {
			points += rejectionWeight
			s.Reasons = append(s.Reasons, "high rejection rate")
		}
	}

	s.Score = float64(points) / 10
	s.Flagged = points > flagThreshold
	return s
}
