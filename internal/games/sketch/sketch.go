// internal/games/sketch/sketch.go
//
// A drawing game: everyone sketches the round's prompt on their handset,
// the collected drawings are sent to the judging collaborator as a
// labelled collage, and points are awarded by rank.
package sketch

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"partyhub/internal/ai"
	"partyhub/internal/countdown"
	"partyhub/internal/game"
	"partyhub/internal/session"
)

// ID is the catalog identifier of this game module.
const ID = "sketch"

// maxDrawingBytes bounds a single submitted drawing (encoded size).
const maxDrawingBytes = 256 << 10

// Info returns the catalog entry.
func Info() game.Info {
	return game.Info{
		ID:              ID,
		Name:            "Sketch It",
		Description:     "Draw the prompt on your handset and let the judge rank the results.",
		MinParticipants: 2,
		MaxParticipants: 8,
	}
}

type Phase string

const (
	PhaseDrawing Phase = "drawing"
	PhaseJudging Phase = "judging"
	PhaseResults Phase = "results"
	PhaseError   Phase = "error"
)

// State is the opaque per-session game state. Drawings stay unexported
// until the results phase publishes them alongside the ranking.
type State struct {
	Phase     Phase  `json:"phase"`
	Round     int    `json:"round"`
	Prompt    string `json:"prompt"`
	Remaining int    `json:"remaining"`

	PromptImage []byte            `json:"promptImage,omitempty"`
	Submitted   map[string]bool   `json:"submitted"`
	Rankings    []ai.Ranking      `json:"rankings,omitempty"`
	Gallery     map[string][]byte `json:"gallery,omitempty"`
	Scores      map[string]int    `json:"scores"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	drawings map[uuid.UUID][]byte
	gen      uint64
	timer    *countdown.Timer
	retry    func()
	rng      *rand.Rand
}

func (st *State) bump() {
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

// Config holds pacing and scoring knobs.
type Config struct {
	DrawSeconds int
	PointsBase  int
}

func DefaultConfig() Config {
	return Config{DrawSeconds: 90, PointsBase: 10}
}

// Game implements the handler contract. All mutable state is per-session.
type Game struct {
	cfg   Config
	clock clockwork.Clock
	log   *logrus.Entry

	judge  ai.Judge
	images ai.ImageGenerator // optional, nil skips the prompt card

	broadcast func(*session.Session)
}

func New(cfg Config, clock clockwork.Clock, logger *logrus.Logger, judge ai.Judge, images ai.ImageGenerator, broadcast func(*session.Session)) *Game {
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
		judge:     judge,
		images:    images,
		broadcast: broadcast,
	}
}

var prompts = []string{
	"a cat stealing a sandwich",
	"a robot walking a dog",
	"a dragon at the dentist",
	"an octopus playing the drums",
	"a snowman on the beach",
	"a wizard stuck in traffic",
	"a penguin delivering pizza",
	"a dinosaur riding a bicycle",
}

// OnStart initializes the opaque state and opens the first drawing phase.
func (g *Game) OnStart(s *session.Session) error {
	if _, ok := s.GameState.(*State); ok {
		return nil
	}
	st := &State{
		Round:  1,
		Scores: make(map[string]int),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, p := range s.Roster {
		if p.IsActive {
			st.Scores[p.ID.String()] = 0
		}
	}
	s.GameState = st
	g.startRound(s, st)
	return nil
}

// OnEnd stops the phase timer, invalidates in-flight judge and image
// continuations and clears the opaque state.
func (g *Game) OnEnd(s *session.Session) {
	st, ok := s.GameState.(*State)
	if !ok {
		return
	}
	st.bump()
	s.GameState = nil
}

func (g *Game) OnAction(s *session.Session, pid uuid.UUID, action game.Action) {
	st, ok := s.GameState.(*State)
	if !ok {
		return
	}
	switch action.Type {
	case "draw":
		var p struct {
			Image []byte `json:"image"`
		}
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return
		}
		g.handleDraw(s, st, pid, p.Image)
	case "advance":
		if isMaster(s, pid) && st.Phase == PhaseDrawing {
			g.enterJudging(s, st)
		}
	case "next_round":
		if isMaster(s, pid) && st.Phase == PhaseResults {
			st.Round++
			g.startRound(s, st)
		}
	case "retry":
		if isMaster(s, pid) && st.Phase == PhaseError && st.retry != nil {
			retry := st.retry
			st.retry = nil
			st.ErrorMessage = ""
			retry()
		}
	}
}

// OnPlayerLeave closes the drawing phase early when every remaining
// active participant has already submitted.
func (g *Game) OnPlayerLeave(s *session.Session, p *session.Participant) {
	st, ok := s.GameState.(*State)
	if !ok {
		return
	}
	if st.Phase == PhaseDrawing && g.allSubmitted(s, st) {
		g.enterJudging(s, st)
	}
}

func isMaster(s *session.Session, pid uuid.UUID) bool {
	m := s.Master()
	return m != nil && m.ID == pid
}

func (g *Game) startRound(s *session.Session, st *State) {
	st.bump()
	st.Phase = PhaseDrawing
	st.Prompt = prompts[st.rng.Intn(len(prompts))]
	st.PromptImage = nil
	st.Submitted = make(map[string]bool)
	st.Rankings = nil
	st.Gallery = nil
	st.ErrorMessage = ""
	st.drawings = make(map[uuid.UUID][]byte)

	st.Remaining = g.cfg.DrawSeconds
	gen := st.gen
	st.timer = countdown.New(g.clock, g.cfg.DrawSeconds,
		func(remaining int) {
			g.withState(s, st, gen, func(cur *State) {
				cur.Remaining = remaining
			})
		},
		func() {
			g.withState(s, st, gen, func(cur *State) {
				g.enterJudging(s, cur)
			})
		})
	st.timer.Start()

	g.fetchPromptImage(s, st)
}

// fetchPromptImage generates the presenter's prompt card. Decorative, so
// a failure is logged and skipped rather than surfaced as an error phase.
func (g *Game) fetchPromptImage(s *session.Session, st *State) {
	if g.images == nil {
		return
	}
	gen := st.gen
	prompt := st.Prompt
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		img, err := g.images.GenerateImage(ctx, prompt)
		cancel()
		if err != nil {
			g.log.Warnf("prompt image generation failed for session %s: %v", s.Code, err)
			return
		}
		g.withState(s, st, gen, func(cur *State) {
			cur.PromptImage = img
		})
	}()
}

func (g *Game) handleDraw(s *session.Session, st *State, pid uuid.UUID, image []byte) {
	if st.Phase != PhaseDrawing {
		return
	}
	if len(image) == 0 || len(image) > maxDrawingBytes {
		return
	}
	if _, already := st.drawings[pid]; already {
		return
	}
	st.drawings[pid] = image
	st.Submitted[pid.String()] = true
	if g.allSubmitted(s, st) {
		g.enterJudging(s, st)
	}
}

func (g *Game) allSubmitted(s *session.Session, st *State) bool {
	if len(st.drawings) == 0 {
		return false
	}
	for _, p := range s.Roster {
		if p.Connected && p.IsActive {
			if _, ok := st.drawings[p.ID]; !ok {
				return false
			}
		}
	}
	return true
}

// enterJudging freezes submissions and hands the labelled collage to the
// judge. The continuation is phase-guarded; failure moves the game to the
// error phase, recoverable via the master's retry action.
func (g *Game) enterJudging(s *session.Session, st *State) {
	st.bump()
	st.Phase = PhaseJudging
	st.Remaining = 0
	g.requestJudgement(s, st)
}

func (g *Game) requestJudgement(s *session.Session, st *State) {
	gen := st.gen
	prompt := st.Prompt

	collage, err := json.Marshal(st.drawings)
	if err != nil {
		st.Phase = PhaseError
		st.ErrorMessage = "Could not prepare drawings for judging."
		st.retry = func() { g.requestJudgement(s, st) }
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		rankings, jerr := g.judge.Judge(ctx, prompt, collage)
		cancel()

		g.withState(s, st, gen, func(cur *State) {
			if jerr != nil {
				g.log.Warnf("judging failed for session %s: %v", s.Code, jerr)
				cur.bump()
				cur.Phase = PhaseError
				cur.ErrorMessage = "The judge is unavailable. The game master can retry."
				cur.retry = func() { g.requestJudgement(s, cur) }
				return
			}
			g.applyRankings(cur, rankings)
		})
	}()
}

// applyRankings publishes the gallery and converts ranks into points:
// first place earns n*base, last place base.
func (g *Game) applyRankings(st *State, rankings []ai.Ranking) {
	st.bump()
	st.Phase = PhaseResults
	st.Rankings = rankings
	st.Gallery = make(map[string][]byte, len(st.drawings))
	for pid, img := range st.drawings {
		st.Gallery[pid.String()] = img
	}
	n := len(rankings)
	for _, r := range rankings {
		pts := (n - r.Rank + 1) * g.cfg.PointsBase
		if pts < 0 {
			pts = 0
		}
		st.Scores[r.Label] += pts
	}
}

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
