package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// Rank is the contribution tier shown on an identity card.
type Rank struct {
	Title     string `json:"title"`
	Level     int    `json:"level"`
	NextLevel string `json:"nextLevel,omitempty"`
}

// Card is the whoami response payload.
type Card struct {
	AgentID            string              `json:"agentId"`
	DisplayName        string              `json:"displayName"`
	CurrentRole        string              `json:"currentRole"`
	CurrentPerspective string              `json:"currentPerspective,omitempty"`
	FirstSeen          string              `json:"firstSeen"`
	DaysSinceJoined    int                 `json:"daysSinceJoined"`
	Stats              Stats               `json:"stats"`
	Rank               Rank                `json:"rank"`
	Achievements       []string            `json:"achievements"`
	RecentRoles        []RoleChange        `json:"recentRoles"`
	RecentPerspectives []PerspectiveChange `json:"recentPerspectives"`
	Recommendations    []string            `json:"recommendations"`
}

// contributionScore is the rank input: raw contributions weighted with
// the diversity and evidence scores.
func contributionScore(st Stats) float64 {
	return float64(st.TotalMessages+st.TotalTasks+st.TotalEdits) +
		10*st.DiversityScore + 5*st.EvidenceRate
}

func computeRank(st Stats) Rank {
	score := contributionScore(st)
	switch {
	case score >= 100:
		return Rank{Title: "Master Collaborator", Level: 5}
	case score >= 50:
		return Rank{Title: "Senior Contributor", Level: 4, NextLevel: "Master Collaborator"}
	case score >= 25:
		return Rank{Title: "Active Member", Level: 3, NextLevel: "Senior Contributor"}
	case score >= 10:
		return Rank{Title: "Contributor", Level: 2, NextLevel: "Active Member"}
	default:
		return Rank{Title: "Newcomer", Level: 1, NextLevel: "Contributor"}
	}
}

func computeAchievements(ident Identity, now time.Time) []string {
	var out []string
	st := ident.Stats
	if now.Sub(ident.FirstSeen) >= 30*24*time.Hour {
		out = append(out, "veteran")
	}
	if st.TotalMessages >= 100 {
		out = append(out, "centurion")
	}
	if st.TotalTasks >= 50 {
		out = append(out, "taskmaster")
	}
	if st.TotalEdits >= 50 {
		out = append(out, "editor")
	}
	if st.DiversityScore >= 0.7 {
		out = append(out, "diverse-thinker")
	}
	if st.EvidenceRate >= 0.7 {
		out = append(out, "evidence-based")
	}
	if st.TotalSessions >= 10 {
		out = append(out, "regular")
	}
	return out
}

func computeRecommendations(st Stats) []string {
	var out []string
	if st.AgreementRate > 0.8 {
		out = append(out, "You agree with the group often; consider voicing dissenting views.")
	}
	if st.EvidenceRate < 0.3 {
		out = append(out, "Back your positions with evidence more often.")
	}
	if st.DiversityScore < 0.4 {
		out = append(out, "Try exploring the problem from other perspectives.")
	}
	return out
}

// BuildCard assembles the identity card for a whoami request.
func BuildCard(ident Identity, now time.Time) Card {
	roles := ident.RoleHistory
	if len(roles) > 5 {
		roles = roles[len(roles)-5:]
	}
	perspectives := ident.PerspectiveHistory
	if len(perspectives) > 3 {
		perspectives = perspectives[len(perspectives)-3:]
	}

	return Card{
		AgentID:            ident.AgentID,
		DisplayName:        ident.DisplayName,
		CurrentRole:        ident.CurrentRole,
		CurrentPerspective: ident.CurrentPerspective,
		FirstSeen:          timefmt.Format(ident.FirstSeen),
		DaysSinceJoined:    int(now.Sub(ident.FirstSeen).Hours() / 24),
		Stats:              ident.Stats,
		Rank:               computeRank(ident.Stats),
		Achievements:       computeAchievements(ident, now),
		RecentRoles:        append([]RoleChange(nil), roles...),
		RecentPerspectives: append([]PerspectiveChange(nil), perspectives...),
		Recommendations:    computeRecommendations(ident.Stats),
	}
}

// FormatHistory renders a human-readable history report for the
// get-history request.
func FormatHistory(ident Identity) string {
	var b strings.Builder

	fmt.Fprintf(&b, "History for %s (%s)\n", ident.DisplayName, ident.AgentID)
	fmt.Fprintf(&b, "First seen: %s   Last seen: %s\n", timefmt.Format(ident.FirstSeen), timefmt.Format(ident.LastSeen))
	fmt.Fprintf(&b, "Sessions: %d   Messages: %d   Tasks: %d   Edits: %d\n\n",
		ident.Stats.TotalSessions, ident.Stats.TotalMessages, ident.Stats.TotalTasks, ident.Stats.TotalEdits)

	b.WriteString("Role history:\n")
	roles := ident.RoleHistory
	if len(roles) > 10 {
		roles = roles[len(roles)-10:]
	}
	for _, rc := range roles {
		fmt.Fprintf(&b, "  %s  %s\n", timefmt.Format(rc.Timestamp), rc.Role)
	}
	fmt.Fprintf(&b, "  current: %s\n", ident.CurrentRole)

	if len(ident.PerspectiveHistory) > 0 || ident.CurrentPerspective != "" {
		b.WriteString("\nPerspective history:\n")
		perspectives := ident.PerspectiveHistory
		if len(perspectives) > 10 {
			perspectives = perspectives[len(perspectives)-10:]
		}
		for _, pc := range perspectives {
			line := fmt.Sprintf("  %s  %s", timefmt.Format(pc.Timestamp), pc.Perspective)
			if pc.Reason != "" {
				line += " (" + pc.Reason + ")"
			}
			b.WriteString(line + "\n")
		}
		if ident.CurrentPerspective != "" {
			fmt.Fprintf(&b, "  current: %s\n", ident.CurrentPerspective)
		}
	}

	return b.String()
}
