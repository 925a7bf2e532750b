package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pdiquest/internal/domain"
)

func record(i int, action string, status domain.Outcome, at time.Time) domain.SubmissionRecord {
	return domain.SubmissionRecord{ID: fmt.Sprintf("s%d", i), ActorID: "a", ActionID: action, Status: status, SubmittedAt: at}
}

func TestAssessQuietHistory(t *testing.T) {
	var h []domain.SubmissionRecord
	actions := []string{"a1", "a2", "a3", "a4"}
	for i := 0; i < 8; i++ {
		h = append(h, record(i, actions[i%4], domain.OutcomeAccepted, t0.Add(-time.Duration(i)*30*time.Hour)))
	}
	s := Assess(h, t0)
	assert.False(t, s.Flagged)
	assert.Equal(t, 0.0, s.Score)
	assert.Empty(t, s.Reasons)
}

func TestAssessBurstAndLowVarietyFlags(t *testing.T) {
	var h []domain.SubmissionRecord
	for i := 0; i < 12; i++ {
		h = append(h, record(i, "docs", domain.OutcomeAccepted, t0.Add(-time.Duration(i)*time.Minute)))
	}
	s := Assess(h, t0)
	assert.Equal(t, 12, s.Submissions24h)
	assert.InDelta(t, 0.7, s.Score, 1e-9)
	assert.True(t, s.Flagged)
	assert.Len(t, s.Reasons, 2)
}

func TestAssessThresholdIsExclusive(t *testing.T) {
	// burst plus high rejection rate scores exactly 0.6 and is not flagged
	var h []domain.SubmissionRecord
	actions := []string{"a1", "a2", "a3"}
	for i := 0; i < 12; i++ {
		status := domain.OutcomeRejected
		if i%3 == 0 {
			status = domain.OutcomeAccepted
		}
		h = append(h, record(i, actions[i%3], status, t0.Add(-time.Duration(i)*time.Minute)))
	}
	s := Assess(h, t0)
	assert.InDelta(t, 0.6, s.Score, 1e-9)
	assert.False(t, s.Flagged)
	assert.InDelta(t, 8.0/12.0, s.RejectionRate, 1e-9)
}

func TestAssessVarietyNeedsFiveSamples(t *testing.T) {
	var h []domain.SubmissionRecord
	for i := 0; i < 4; i++ {
		h = append(h, record(i, "docs", domain.OutcomeAccepted, t0.Add(-time.Duration(i)*48*time.Hour)))
	}
	assert.Equal(t, 0.0, Assess(h, t0).Score)
}
