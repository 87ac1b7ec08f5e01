package game

import "time"

const (
	minTarget = 1
	maxTarget = 100
)

// NumberGame is one user's up/down game in one room.
type NumberGame struct {
	UserID    string
	RoomID    string
	Target    int
	Attempts  int
	LastGuess int
	StartTime time.Time
}

// NumberState is the client-visible view of a NumberGame.
type NumberState struct {
	IsActive  bool      `json:"isActive"`
	Attempts  int       `json:"attempts"`
	LastGuess *int      `json:"lastGuess"`
	StartTime time.Time `json:"startTime"`
}

func (g *NumberGame) snapshot(active bool) *NumberState {
	s := &NumberState{IsActive: active, Attempts: g.Attempts, StartTime: g.StartTime}
	if g.Attempts > 0 {
		last := g.LastGuess
		s.LastGuess = &last
	}
	return s
}

type guessOutcome int

const (
	guessUp guessOutcome = iota
	guessDown
	guessCorrect
)

// guess records one attempt. UP means the target is larger than the guess.
func (g *NumberGame) guess(n int) guessOutcome {
	g.Attempts++
	g.LastGuess = n
	switch {
	case n == g.Target:
		return guessCorrect
	case n < g.Target:
		return guessUp
	default:
		return guessDown
	}
}

type numberKey struct {
	userID string
	roomID string
}

func (e *Engine) startNumber(in Input) Result {
	g := &NumberGame{
		UserID:    in.UserID,
		RoomID:    in.RoomID,
		Target:    minTarget + e.rng.IntN(maxTarget-minTarget+1),
		StartTime: e.now(),
	}
	e.numbers[numberKey{in.UserID, in.RoomID}] = g
	e.log.Info("number_game_started", "room_id", in.RoomID, "user_id", in.UserID)

	return Result{
		Handled:     true,
		Responses:   []string{numberStartMessage},
		NumberState: g.snapshot(true),
	}
}

func (e *Engine) guessNumber(in Input, n int) Result {
	k := numberKey{in.UserID, in.RoomID}
	g, ok := e.numbers[k]
	if !ok {
		return Result{}
	}

	var msg string
	active := true
	switch g.guess(n) {
	case guessCorrect:
		msg = numberWinMessage(n, g.Attempts)
		active = false
		delete(e.numbers, k)
		e.log.Info("number_game_won", "room_id", in.RoomID, "user_id", in.UserID, "attempts", g.Attempts)
	case guessUp:
		msg = numberUpMessage(n, g.Attempts)
	default:
		msg = numberDownMessage(n, g.Attempts)
	}

	return Result{
		Handled:     true,
		Responses:   []string{msg},
		NumberState: g.snapshot(active),
	}
}

func (e *Engine) endNumber(in Input) Result {
	k := numberKey{in.UserID, in.RoomID}
	g, ok := e.numbers[k]
	if !ok {
		return Result{Handled: true, Responses: []string{msgNoNumberGame}}
	}
	delete(e.numbers, k)
	return Result{
		Handled:     true,
		Responses:   []string{numberEndMessage(g.Target, g.Attempts)},
		NumberState: g.snapshot(false),
	}
}
