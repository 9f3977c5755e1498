// internal/games/categories/scoring.go
package categories

import "strings"

// normalizeAnswer trims and case-folds an answer for comparison.
func normalizeAnswer(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// scoreCategory settles the just-completed category:
//   - rejected answers score zero,
//   - answers not starting with the assigned letter score zero,
//   - answers already played earlier in this session score zero,
//   - a normalized value shared by several participants scores zero for
//     all of them,
//   - unique valid answers score word-count times the per-word unit.
//
// Points accumulate into the running totals; the per-category breakdown
// is kept for display until the next category settles.
func (g *Game) scoreCategory(st *State) {
	letter := strings.ToLower(st.Letter)
	points := make(map[string]int)
	counts := make(map[string]int)

	type row struct {
		pid   string
		norm  string
		valid bool
		words int
	}
	rows := make([]row, 0, len(st.Revealed))
	for i, ans := range st.Revealed {
		norm := normalizeAnswer(ans.Text)
		valid := !ans.Rejected &&
			strings.HasPrefix(norm, letter) &&
			!st.usedAnswers[norm]
		if valid {
			counts[norm]++
		}
		rows = append(rows, row{
			pid:   st.revealOrder[i].String(),
			norm:  norm,
			valid: valid,
			words: len(strings.Fields(ans.Text)),
		})
	}

	for _, r := range rows {
		pts := 0
		if r.valid && counts[r.norm] == 1 {
			pts = r.words * g.cfg.PointsPerWord
		}
		points[r.pid] = pts
		st.Scores[r.pid] += pts
	}
	for norm := range counts {
		st.usedAnswers[norm] = true
	}
	st.CategoryScores = points
}
