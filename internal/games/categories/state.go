// internal/games/categories/state.go
package categories

import (
	"math/rand"

	"github.com/google/uuid"

	"partyhub/internal/countdown"
)

// Phase is the per-category sub-state of a round.
type Phase string

const (
	PhaseSubmitting Phase = "submitting"
	PhaseRevealing  Phase = "revealing"
	PhaseVoting     Phase = "voting"
	PhaseResults    Phase = "results"
	PhaseError      Phase = "error"
)

// RevealedAnswer is one answer shown to everyone. Index i corresponds to
// revealOrder[i].
type RevealedAnswer struct {
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
	Rejected      bool   `json:"rejected"`
	Challenged    bool   `json:"challenged"`
}

// ChallengeState is the voting sub-protocol raised against one revealed
// answer. Individual votes stay private; only the tally is broadcast.
type ChallengeState struct {
	TargetIndex  int    `json:"targetIndex"`
	ChallengerID string `json:"challengerId"`
	Eligible     int    `json:"eligible"`
	VotesCast    int    `json:"votesCast"`
	Resolved     bool   `json:"resolved"`
	Accepted     bool   `json:"accepted"`

	votes map[uuid.UUID]bool // participant -> voted down
}

// State is the opaque per-session game state. Exported fields are what
// every client sees in the broadcast snapshot; unexported fields (raw
// submissions before reveal, timers, the phase generation counter) never
// leave the process.
type State struct {
	Phase         Phase  `json:"phase"`
	Round         int    `json:"round"`
	Category      string `json:"category"`
	CategoryIndex int    `json:"categoryIndex"`
	Letter        string `json:"letter"`
	Remaining     int    `json:"remaining"`

	Submitted       map[string]bool  `json:"submitted"`
	Revealed        []RevealedAnswer `json:"revealed"`
	RevealIndex     int              `json:"revealIndex"`
	AwaitingAdvance bool             `json:"awaitingAdvance"`
	Challenge       *ChallengeState  `json:"challenge,omitempty"`

	Scores         map[string]int `json:"scores"`
	CategoryScores map[string]int `json:"categoryScores,omitempty"`

	GeneratingCategories bool   `json:"generatingCategories,omitempty"`
	ErrorMessage         string `json:"errorMessage,omitempty"`

	categories  []string
	answers     map[uuid.UUID]string
	revealOrder []uuid.UUID
	usedAnswers map[string]bool
	usedLetters map[string]bool
	gen         uint64
	timer       *countdown.Timer
	retry       func()
	rng         *rand.Rand
}

// bump invalidates every outstanding timer callback and async continuation
// for the current phase. Called at the start of every phase transition.
func (st *State) bump() {
	st.gen++
	st.stopTimer()
}

func (st *State) stopTimer() {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}
