// internal/games/categories/categories.go
//
// The multi-round word-category game: per category, every active
// participant submits one answer starting with the assigned letter, the
// answers are revealed one at a time, any answer can be challenged and
// voted on, and unique valid answers score by word count.
package categories

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"partyhub/internal/ai"
	"partyhub/internal/countdown"
	"partyhub/internal/game"
	"partyhub/internal/session"
)

// ID is the catalog identifier of this game module.
const ID = "categories"

const maxAnswerLength = 64

// Info returns the catalog entry.
func Info() game.Info {
	return game.Info{
		ID:              ID,
		Name:            "Categories",
		Description:     "Name something in the category starting with the round's letter, then challenge answers you doubt.",
		MinParticipants: 2,
		MaxParticipants: 12,
	}
}

// Config holds the phase pacing and scoring knobs.
type Config struct {
	SubmitSeconds      int
	RevealSeconds      int
	VoteSeconds        int
	ResultDwellSeconds int
	CategoriesPerRound int
	PointsPerWord      int
}

func DefaultConfig() Config {
	return Config{
		SubmitSeconds:      60,
		RevealSeconds:      10,
		VoteSeconds:        20,
		ResultDwellSeconds: 5,
		CategoriesPerRound: 5,
		PointsPerWord:      10,
	}
}

// Game implements the handler contract. It is stateless across sessions:
// everything mutable lives in the per-session State, so concurrent
// sessions of this game never share timers or history.
type Game struct {
	cfg   Config
	clock clockwork.Clock
	log   *logrus.Entry

	speech ai.Synthesizer   // optional, nil disables announcements
	text   ai.TextGenerator // optional, nil disables AI category lists

	broadcast func(*session.Session)
}

// New builds the game module. A nil clock selects the real clock; nil
// speech/text clients disable the corresponding AI features.
func New(cfg Config, clock clockwork.Clock, logger *logrus.Logger, speech ai.Synthesizer, text ai.TextGenerator, broadcast func(*session.Session)) *Game {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if broadcast == nil {
		broadcast = func(*session.Session) {}
	}
	return &Game{
		cfg:       cfg,
		clock:     clock,
		log:       logger.WithField("game", ID),
		speech:    speech,
		text:      text,
		broadcast: broadcast,
	}
}

var defaultCategories = []string{
	"City",
	"Country",
	"Animal",
	"Food or drink",
	"Profession",
	"Movie or TV show",
	"Famous person",
	"Brand",
	"Plant",
	"Something you find at home",
}

// OnStart initializes the opaque state and enters the first submitting
// phase. Safe against a duplicate start: an existing state is left alone.
func (g *Game) OnStart(s *session.Session) error {
	if _, ok := s.GameState.(*State); ok {
		return nil
	}
	st := &State{
		Round:       1,
		Scores:      make(map[string]int),
		categories:  append([]string(nil), defaultCategories...),
		usedAnswers: make(map[string]bool),
		usedLetters: make(map[string]bool),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, p := range s.Roster {
		if p.IsActive {
			st.Scores[p.ID.String()] = 0
		}
	}
	st.rng.Shuffle(len(st.categories), func(i, j int) {
		st.categories[i], st.categories[j] = st.categories[j], st.categories[i]
	})
	s.GameState = st
	g.startCategory(s, st)
	return nil
}

// OnEnd stops the current phase timer, invalidates in-flight continuations
// and clears the opaque state.
func (g *Game) OnEnd(s *session.Session) {
	st, ok := s.GameState.(*State)
	if !ok {
		return
	}
	st.bump()
	s.GameState = nil
}

// OnAction dispatches a gameplay action. Out-of-phase or malformed actions
// are no-ops.
func (g *Game) OnAction(s *session.Session, pid uuid.UUID, action game.Action) {
	st, ok := s.GameState.(*State)
	if !ok {
		return
	}
	switch action.Type {
	case "submit":
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return
		}
		g.handleSubmit(s, st, pid, p.Text)
	case "challenge":
		g.handleChallenge(s, st, pid)
	case "vote":
		var p struct {
			Down bool `json:"down"`
		}
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return
		}
		g.handleVote(s, st, pid, p.Down)
	case "advance":
		if isMaster(s, pid) {
			g.handleAdvance(s, st)
		}
	case "new_round":
		if isMaster(s, pid) && st.Phase == PhaseResults && !st.GeneratingCategories {
			g.handleNewRound(s, st)
		}
	case "retry":
		if isMaster(s, pid) && st.Phase == PhaseError {
			g.handleRetry(s, st)
		}
	}
}

// OnPlayerLeave keeps phase completion conditions consistent when an
// active participant disconnects mid-phase.
func (g *Game) OnPlayerLeave(s *session.Session, p *session.Participant) {
	st, ok := s.GameState.(*State)
	if !ok {
		return
	}
	switch st.Phase {
	case PhaseSubmitting:
		if g.allActiveSubmitted(s, st) {
			g.enterRevealing(s, st)
		}
	case PhaseVoting:
		ch := st.Challenge
		if ch == nil || ch.Resolved {
			return
		}
		owner := st.revealOrder[ch.TargetIndex]
		if p.ID == owner {
			return
		}
		if _, voted := ch.votes[p.ID]; voted {
			return
		}
		eligible := 0
		for _, other := range s.Roster {
			if other.Connected && other.IsActive && other.ID != owner {
				eligible++
			}
		}
		ch.Eligible = eligible
		if len(ch.votes) >= eligible {
			g.resolveVotes(s, st)
		}
	}
}

func isMaster(s *session.Session, pid uuid.UUID) bool {
	m := s.Master()
	return m != nil && m.ID == pid
}

// --- phase transitions (session lock held) ---

func (g *Game) startCategory(s *session.Session, st *State) {
	st.Category = st.categories[st.CategoryIndex%len(st.categories)]
	st.Letter = g.pickLetter(st)
	g.enterSubmitting(s, st)
}

func (g *Game) enterSubmitting(s *session.Session, st *State) {
	st.bump()
	st.Phase = PhaseSubmitting
	st.answers = make(map[uuid.UUID]string)
	st.Submitted = make(map[string]bool)
	st.Revealed = nil
	st.revealOrder = nil
	st.RevealIndex = 0
	st.AwaitingAdvance = false
	st.Challenge = nil
	st.ErrorMessage = ""
	g.startPhaseTimer(s, st, g.cfg.SubmitSeconds, func(cur *State) {
		g.enterRevealing(s, cur)
	})
	g.announce(s, st.Category, st.Letter)
}

func (g *Game) enterRevealing(s *session.Session, st *State) {
	st.bump()
	st.Phase = PhaseRevealing
	order := make([]uuid.UUID, 0, len(st.answers))
	for _, p := range s.Roster {
		if _, ok := st.answers[p.ID]; ok {
			order = append(order, p.ID)
		}
	}
	st.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	st.revealOrder = order
	if len(order) == 0 {
		st.AwaitingAdvance = true
		st.Remaining = 0
		return
	}
	g.showAnswer(s, st, 0)
}

// showAnswer publishes answer idx and arms the auto-advance timer. Caller
// has already bumped the generation.
func (g *Game) showAnswer(s *session.Session, st *State, idx int) {
	st.RevealIndex = idx
	pid := st.revealOrder[idx]
	st.Revealed = append(st.Revealed, RevealedAnswer{
		ParticipantID: pid.String(),
		Text:          st.answers[pid],
	})
	g.startPhaseTimer(s, st, g.cfg.RevealSeconds, func(cur *State) {
		g.advanceReveal(s, cur)
	})
}

func (g *Game) advanceReveal(s *session.Session, st *State) {
	st.bump()
	next := st.RevealIndex + 1
	if next >= len(st.revealOrder) {
		// Last answer shown: stall until the master advances to the next
		// category or to results.
		st.AwaitingAdvance = true
		st.Remaining = 0
		return
	}
	g.showAnswer(s, st, next)
}

func (g *Game) enterVoting(s *session.Session, st *State, challengerID uuid.UUID, targetIdx int) {
	st.bump()
	st.Phase = PhaseVoting
	owner := st.revealOrder[targetIdx]
	eligible := 0
	for _, p := range s.Roster {
		if p.Connected && p.IsActive && p.ID != owner {
			eligible++
		}
	}
	st.Challenge = &ChallengeState{
		TargetIndex:  targetIdx,
		ChallengerID: challengerID.String(),
		Eligible:     eligible,
		votes:        make(map[uuid.UUID]bool),
	}
	g.startPhaseTimer(s, st, g.cfg.VoteSeconds, func(cur *State) {
		g.resolveVotes(s, cur)
	})
}

// resolveVotes applies the majority rule: reject when down-votes make up
// at least half of the votes cast. No votes at all means the answer
// stands.
func (g *Game) resolveVotes(s *session.Session, st *State) {
	ch := st.Challenge
	if ch == nil || ch.Resolved {
		return
	}
	st.bump()
	total := len(ch.votes)
	down := 0
	for _, d := range ch.votes {
		if d {
			down++
		}
	}
	rejected := total > 0 && down*2 >= total
	ch.Resolved = true
	ch.Accepted = !rejected
	ch.VotesCast = total
	if rejected {
		st.Revealed[ch.TargetIndex].Rejected = true
	}
	g.startPhaseTimer(s, st, g.cfg.ResultDwellSeconds, func(cur *State) {
		g.finishChallenge(s, cur)
	})
}

func (g *Game) finishChallenge(s *session.Session, st *State) {
	st.Phase = PhaseRevealing
	st.Challenge = nil
	g.advanceReveal(s, st)
}

func (g *Game) completeCategory(s *session.Session, st *State) {
	st.bump()
	g.scoreCategory(st)
	st.CategoryIndex++
	if st.CategoryIndex >= g.cfg.CategoriesPerRound {
		g.enterResults(s, st)
		return
	}
	g.startCategory(s, st)
}

func (g *Game) enterResults(s *session.Session, st *State) {
	st.bump()
	st.Phase = PhaseResults
	st.Remaining = 0
	st.AwaitingAdvance = false
}

// --- action handlers (session lock held) ---

func (g *Game) handleSubmit(s *session.Session, st *State, pid uuid.UUID, text string) {
	if st.Phase != PhaseSubmitting {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxAnswerLength {
		return
	}
	if _, already := st.answers[pid]; already {
		return
	}
	st.answers[pid] = text
	st.Submitted[pid.String()] = true
	if g.allActiveSubmitted(s, st) {
		g.enterRevealing(s, st)
	}
}

func (g *Game) handleChallenge(s *session.Session, st *State, pid uuid.UUID) {
	if st.Phase != PhaseRevealing || len(st.Revealed) == 0 {
		return
	}
	idx := st.RevealIndex
	if st.revealOrder[idx] == pid {
		// Owners cannot challenge their own answer.
		return
	}
	if st.Revealed[idx].Challenged {
		return
	}
	st.Revealed[idx].Challenged = true
	g.enterVoting(s, st, pid, idx)
}

func (g *Game) handleVote(s *session.Session, st *State, pid uuid.UUID, down bool) {
	if st.Phase != PhaseVoting {
		return
	}
	ch := st.Challenge
	if ch == nil || ch.Resolved {
		return
	}
	if st.revealOrder[ch.TargetIndex] == pid {
		return
	}
	p := s.FindParticipant(pid)
	if p == nil || !p.IsActive {
		return
	}
	if _, voted := ch.votes[pid]; voted {
		return
	}
	ch.votes[pid] = down
	ch.VotesCast = len(ch.votes)
	if ch.VotesCast >= ch.Eligible {
		g.resolveVotes(s, st)
	}
}

func (g *Game) handleAdvance(s *session.Session, st *State) {
	switch st.Phase {
	case PhaseSubmitting:
		g.enterRevealing(s, st)
	case PhaseRevealing:
		if st.AwaitingAdvance {
			g.completeCategory(s, st)
		} else {
			g.advanceReveal(s, st)
		}
	}
}

func (g *Game) handleNewRound(s *session.Session, st *State) {
	st.bump()
	st.Round++
	st.CategoryIndex = 0
	st.CategoryScores = nil
	st.rng.Shuffle(len(st.categories), func(i, j int) {
		st.categories[i], st.categories[j] = st.categories[j], st.categories[i]
	})
	if g.text == nil {
		g.startCategory(s, st)
		return
	}
	g.generateCategories(s, st)
}

func (g *Game) handleRetry(s *session.Session, st *State) {
	if st.retry == nil {
		return
	}
	retry := st.retry
	st.retry = nil
	st.ErrorMessage = ""
	retry()
}

// generateCategories asks the text collaborator for a fresh category list.
// The continuation re-checks the phase generation before applying its
// result; a failure moves the game to the error phase, recoverable via
// the master's retry action.
func (g *Game) generateCategories(s *session.Session, st *State) {
	st.GeneratingCategories = true
	st.ErrorMessage = ""
	gen := st.gen
	prompt := fmt.Sprintf(
		"List %d categories for a letter-based word game, one per line, without numbering.",
		g.cfg.CategoriesPerRound)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		text, err := g.text.GenerateText(ctx, prompt)
		cancel()

		g.withState(s, st, gen, func(cur *State) {
			cur.GeneratingCategories = false
			if err != nil {
				g.log.Warnf("category generation failed for session %s: %v", s.Code, err)
				cur.bump()
				cur.Phase = PhaseError
				cur.ErrorMessage = "Could not generate new categories. The game master can retry."
				cur.retry = func() { g.generateCategories(s, cur) }
				return
			}
			if cats := parseCategoryList(text); len(cats) > 0 {
				cur.categories = cats
			}
			g.startCategory(s, cur)
		})
	}()
}

// announce speaks the category and letter on the presenter as a
// best-effort side channel. Playback failure never blocks the phase
// timer; the duration estimate still ships for UI pacing.
func (g *Game) announce(s *session.Session, category, letter string) {
	if g.speech == nil {
		return
	}
	text := fmt.Sprintf("The category is %s, with the letter %s.", category, letter)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		clip, err := g.speech.Synthesize(ctx, text)
		cancel()
		if err != nil {
			g.log.Warnf("speech synthesis failed for session %s: %v", s.Code, err)
		}
		s.WritePresenter(map[string]interface{}{
			"type":       "speech:play",
			"text":       text,
			"audio":      clip.Audio,
			"durationMs": clip.Duration.Milliseconds(),
		})
	}()
}

// --- helpers ---

// withState runs fn under the session lock if st is still the current
// state at the captured generation, then broadcasts. Every timer callback
// and async continuation funnels through here.
func (g *Game) withState(s *session.Session, st *State, gen uint64, fn func(*State)) bool {
	s.Mu.Lock()
	cur, ok := s.GameState.(*State)
	if !ok || cur != st || cur.gen != gen {
		s.Mu.Unlock()
		return false
	}
	fn(cur)
	s.Mu.Unlock()
	g.broadcast(s)
	return true
}

// startPhaseTimer arms the countdown for the current phase. Ticks update
// the broadcast remaining seconds; completion runs onDone under the
// session lock, guarded by the phase generation captured here.
func (g *Game) startPhaseTimer(s *session.Session, st *State, seconds int, onDone func(*State)) {
	st.Remaining = seconds
	gen := st.gen
	st.timer = countdown.New(g.clock, seconds,
		func(remaining int) {
			g.withState(s, st, gen, func(cur *State) {
				cur.Remaining = remaining
			})
		},
		func() {
			g.withState(s, st, gen, onDone)
		})
	st.timer.Start()
}

func (g *Game) allActiveSubmitted(s *session.Session, st *State) bool {
	if len(st.answers) == 0 {
		return false
	}
	for _, p := range s.Roster {
		if p.Connected && p.IsActive {
			if _, ok := st.answers[p.ID]; !ok {
				return false
			}
		}
	}
	return true
}

// letterPool leaves out Q, X and Y: too few common words start with them.
const letterPool = "ABCDEFGHIJKLMNOPRSTUVWZ"

func (g *Game) pickLetter(st *State) string {
	if len(st.usedLetters) >= len(letterPool) {
		st.usedLetters = make(map[string]bool)
	}
	for {
		l := string(letterPool[st.rng.Intn(len(letterPool))])
		if !st.usedLetters[l] {
			st.usedLetters[l] = true
			return l
		}
	}
}

func parseCategoryList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789. ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 12 {
			break
		}
	}
	return out
}
