// Package game runs the text games embedded in room chat: a per-user
// number-guessing game and a per-room mafia game. Game state lives in memory
// only.
package game

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/membership"
)

// Rand is the randomness source for targets, roles and night events.
type Rand interface {
	IntN(n int) int
}

type randFunc func(int) int

func (f randFunc) IntN(n int) int { return f(n) }

// Roster lists a room's connected members in join order.
type Roster interface {
	Members(roomID string) []membership.Member
}

type Input struct {
	UserID   string
	UserName string
	RoomID   string
	Text     string
	// Addressed is set when the line mentioned an assistant persona.
	Addressed bool
}

// PrivateMessage is delivered to one user only.
type PrivateMessage struct {
	UserID  string
	Content string
}

// Result is the outcome of offering a chat line to the games. When Handled is
// false the line is ordinary chat.
type Result struct {
	Handled     bool
	Responses   []string
	Private     []PrivateMessage
	NumberState *NumberState
	MafiaState  *MafiaState
}

type Engine struct {
	roster Roster
	rng    Rand
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	numbers map[numberKey]*NumberGame
	mafia   map[string]*MafiaGame
}

type Option func(*Engine)

func WithRand(r Rand) Option {
	return func(e *Engine) { e.rng = r }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(roster Roster, opts ...Option) *Engine {
	e := &Engine{
		roster:  roster,
		rng:     randFunc(rand.IntN),
		log:     slog.Default(),
		now:     time.Now,
		numbers: make(map[numberKey]*NumberGame),
		mafia:   make(map[string]*MafiaGame),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TryHandle offers a chat line to the games. Mafia commands are matched
// before number-game ones, so one line starts at most one game. Rule
// violations are reported as a handled response and leave state unchanged.
func (e *Engine) TryHandle(in Input) Result {
	cmd := ParseCommand(in.Text, in.Addressed)
	if cmd.Kind == CommandNone {
		return Result{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		res Result
		err error
	)
	switch cmd.Kind {
	case CommandMafiaStart:
		res, err = e.startMafia(in)
	case CommandMafiaEnd, CommandBeginDiscussion, CommandBeginVoting, CommandVote:
		res, err = e.handleMafiaCommand(in, cmd)
	case CommandNumberStart:
		res = e.startNumber(in)
	case CommandNumberEnd:
		res = e.endNumber(in)
	case CommandGuess:
		res = e.guessNumber(in, cmd.Guess)
	}

	var rule cerrors.GameRuleViolation
	if errors.As(err, &rule) {
		e.log.Debug("game_rule_violation", "room_id", in.RoomID, "user_id", in.UserID, "command", cmd.Kind.String(), "reason", rule.Message)
		return Result{Handled: true, Responses: []string{rule.Message}}
	}
	return res
}

// EndNumberGames drops the user's number games, in one room or in all rooms
// when roomID is empty.
func (e *Engine) EndNumberGames(userID, roomID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for k := range e.numbers {
		if k.userID == userID && (roomID == "" || k.roomID == roomID) {
			delete(e.numbers, k)
			n++
		}
	}
	return n
}

func (e *Engine) NumberGame(userID, roomID string) (NumberGame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.numbers[numberKey{userID, roomID}]
	if !ok {
		return NumberGame{}, false
	}
	return *g, true
}

// MafiaSnapshot returns the room's running mafia game, if any.
func (e *Engine) MafiaSnapshot(roomID string) (*MafiaState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.mafia[roomID]
	if !ok {
		return nil, false
	}
	return g.snapshot(""), true
}
