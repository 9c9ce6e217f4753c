package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleIdentity(st Stats) Identity {
	now := time.Now().UTC()
	return Identity{
		AgentID:     "agent-1",
		DisplayName: "alice",
		CurrentRole: "architect",
		FirstSeen:   now.Add(-40 * 24 * time.Hour),
		LastSeen:    now,
		RoleHistory: []RoleChange{
			{Role: "researcher", Timestamp: now.Add(-time.Hour)},
		},
		Stats: st,
	}
}

func TestComputeRank_Thresholds(t *testing.T) {
	cases := []struct {
		messages string
		stats    Stats
		title    string
		level    int
	}{
		{"newcomer", Stats{}, "Newcomer", 1},
		{"contributor", Stats{TotalMessages: 10}, "Contributor", 2},
		{"active", Stats{TotalMessages: 25}, "Active Member", 3},
		{"senior", Stats{TotalMessages: 50}, "Senior Contributor", 4},
		{"master", Stats{TotalMessages: 100}, "Master Collaborator", 5},
	}
	for _, tc := range cases {
		r := computeRank(tc.stats)
		assert.Equal(t, tc.title, r.Title, tc.messages)
		assert.Equal(t, tc.level, r.Level, tc.messages)
	}
}

func TestComputeRank_ScoresContribute(t *testing.T) {
	// 1 message + 10*0.5 + 5*0.5 = 8.5 → still Newcomer.
	r := computeRank(Stats{TotalMessages: 1, DiversityScore: 0.5, EvidenceRate: 0.5})
	assert.Equal(t, 1, r.Level)

	// 3 messages + 10*0.5 + 5*0.5 = 10.5 → Contributor.
	r = computeRank(Stats{TotalMessages: 3, DiversityScore: 0.5, EvidenceRate: 0.5})
	assert.Equal(t, 2, r.Level)
}

func TestBuildCard(t *testing.T) {
	ident := sampleIdentity(Stats{
		TotalMessages:  120,
		TotalSessions:  12,
		DiversityScore: 0.8,
		EvidenceRate:   0.75,
		AgreementRate:  0.9,
	})

	card := BuildCard(ident, time.Now().UTC())

	assert.Equal(t, 40, card.DaysSinceJoined)
	assert.Equal(t, "Master Collaborator", card.Rank.Title)
	assert.Contains(t, card.Achievements, "veteran")
	assert.Contains(t, card.Achievements, "centurion")
	assert.Contains(t, card.Achievements, "diverse-thinker")
	assert.Contains(t, card.Achievements, "evidence-based")
	assert.Contains(t, card.Achievements, "regular")
	assert.NotEmpty(t, card.Recommendations) // high agreement rate
}

func TestBuildCard_TruncatesHistory(t *testing.T) {
	ident := sampleIdentity(Stats{})
	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		ident.RoleHistory = append(ident.RoleHistory, RoleChange{Role: "r", Timestamp: now})
	}
	for i := 0; i < 5; i++ {
		ident.PerspectiveHistory = append(ident.PerspectiveHistory, PerspectiveChange{Perspective: "p", Timestamp: now})
	}

	card := BuildCard(ident, now)
	assert.Len(t, card.RecentRoles, 5)
	assert.Len(t, card.RecentPerspectives, 3)
}

func TestFormatHistory(t *testing.T) {
	ident := sampleIdentity(Stats{TotalMessages: 4})
	ident.CurrentPerspective = "skeptic"

	report := FormatHistory(ident)
	assert.True(t, strings.Contains(report, "alice"))
	assert.True(t, strings.Contains(report, "Role history:"))
	assert.True(t, strings.Contains(report, "researcher"))
	assert.True(t, strings.Contains(report, "current: architect"))
	assert.True(t, strings.Contains(report, "skeptic"))
}
