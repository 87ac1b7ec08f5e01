package game

import (
	"fmt"
	"slices"
	"strings"

	cerrors "chat-server/internal/errors"
)

const (
	minMafiaPlayers = 3
	maxMafiaPlayers = 5
)

type Phase string

const (
	PhaseNight  Phase = "night"
	PhaseDay    Phase = "day"
	PhaseVoting Phase = "voting"
	PhaseEnded  Phase = "ended"
)

func (p Phase) Label() string {
	switch p {
	case PhaseNight:
		return "밤"
	case PhaseDay:
		return "낮"
	case PhaseVoting:
		return "투표"
	}
	return "종료"
}

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MafiaGame is a room's social-deduction game. Participants keep join order,
// which also decides vote ties.
type MafiaGame struct {
	RoomID       string
	Participants []Player
	MafiaID      string
	CitizenIDs   []string
	AliveIDs     []string
	Phase        Phase
	Day          int
	Votes        map[string]string
	NightEvents  []string
}

// MafiaState is the room-visible view of a MafiaGame. The mafia id is only
// revealed once the game has ended.
type MafiaState struct {
	IsActive     bool     `json:"isActive"`
	Phase        Phase    `json:"phase"`
	Day          int      `json:"day"`
	Participants []Player `json:"participants"`
	Alive        []string `json:"alive"`
	VotedCount   int      `json:"votedCount"`
	Winner       string   `json:"winner,omitempty"`
	MafiaID      string   `json:"mafiaId,omitempty"`
}

func (g *MafiaGame) snapshot(winner string) *MafiaState {
	s := &MafiaState{
		IsActive:     g.Phase != PhaseEnded,
		Phase:        g.Phase,
		Day:          g.Day,
		Participants: slices.Clone(g.Participants),
		Alive:        slices.Clone(g.AliveIDs),
		VotedCount:   len(g.Votes),
		Winner:       winner,
	}
	if g.Phase == PhaseEnded {
		s.MafiaID = g.MafiaID
	}
	return s
}

func (g *MafiaGame) player(id string) (Player, bool) {
	i := slices.IndexFunc(g.Participants, func(p Player) bool { return p.ID == id })
	if i < 0 {
		return Player{}, false
	}
	return g.Participants[i], true
}

func (g *MafiaGame) isAlive(id string) bool {
	return slices.Contains(g.AliveIDs, id)
}

func (g *MafiaGame) alivePlayers() []Player {
	out := make([]Player, 0, len(g.AliveIDs))
	for _, p := range g.Participants {
		if g.isAlive(p.ID) {
			out = append(out, p)
		}
	}
	return out
}

// resolveAlive finds a living participant by case-insensitive name.
func (g *MafiaGame) resolveAlive(name string) (Player, bool) {
	name = Normalize(name)
	for _, p := range g.alivePlayers() {
		if strings.EqualFold(Normalize(p.Name), name) {
			return p, true
		}
	}
	return Player{}, false
}

func (g *MafiaGame) eliminate(id string) {
	g.AliveIDs = slices.DeleteFunc(g.AliveIDs, func(a string) bool { return a == id })
	g.CitizenIDs = slices.DeleteFunc(g.CitizenIDs, func(c string) bool { return c == id })
}

func (g *MafiaGame) aliveCitizens() int {
	n := 0
	for _, id := range g.CitizenIDs {
		if g.isAlive(id) {
			n++
		}
	}
	return n
}

// tally picks the most voted target, counting only votes from living voters.
// Ties go to the candidate who joined earliest.
func (g *MafiaGame) tally() (Player, []tallyLine) {
	counts := make(map[string]int)
	for voter, target := range g.Votes {
		if g.isAlive(voter) && g.isAlive(target) {
			counts[target]++
		}
	}

	var (
		lines  []tallyLine
		chosen Player
		best   int
	)
	for _, p := range g.Participants {
		n := counts[p.ID]
		if n == 0 {
			continue
		}
		lines = append(lines, tallyLine{name: p.Name, votes: n})
		if n > best {
			best = n
			chosen = p
		}
	}
	return chosen, lines
}

type phaseCommand struct {
	phase Phase
	cmd   CommandKind
}

type mafiaAction func(e *Engine, g *MafiaGame, in Input, cmd Command) (Result, error)

// mafiaTransitions lists every command valid in each phase. Anything else is
// a rule violation.
var mafiaTransitions = map[phaseCommand]mafiaAction{
	{PhaseNight, CommandBeginDiscussion}: (*Engine).beginDiscussion,
	{PhaseDay, CommandBeginVoting}:       (*Engine).beginVoting,
	{PhaseVoting, CommandVote}:           (*Engine).castVote,
}

func (e *Engine) startMafia(in Input) (Result, error) {
	if _, running := e.mafia[in.RoomID]; running {
		return Result{}, cerrors.GameRuleViolation{Message: msgMafiaRunning}
	}

	var players []Player
	if e.roster != nil {
		for _, m := range e.roster.Members(in.RoomID) {
			players = append(players, Player{ID: m.UserID, Name: m.Name})
		}
	}
	if len(players) < minMafiaPlayers || len(players) > maxMafiaPlayers {
		return Result{}, cerrors.GameRuleViolation{Message: mafiaCapacityMessage(len(players))}
	}

	g := &MafiaGame{
		RoomID:       in.RoomID,
		Participants: players,
		Phase:        PhaseNight,
		Day:          1,
		Votes:        make(map[string]string),
	}
	g.MafiaID = players[e.rng.IntN(len(players))].ID
	for _, p := range players {
		g.AliveIDs = append(g.AliveIDs, p.ID)
		if p.ID != g.MafiaID {
			g.CitizenIDs = append(g.CitizenIDs, p.ID)
		}
	}
	event := e.nightEvent(g)
	e.mafia[in.RoomID] = g
	e.log.Info("mafia_game_started", "room_id", in.RoomID, "players", len(players))

	private := make([]PrivateMessage, 0, len(players))
	for _, p := range players {
		content := msgCitizenRole
		if p.ID == g.MafiaID {
			content = msgMafiaRole
		}
		private = append(private, PrivateMessage{UserID: p.ID, Content: content})
	}

	return Result{
		Handled:    true,
		Responses:  []string{mafiaStartMessage(players, event)},
		Private:    private,
		MafiaState: g.snapshot(""),
	}, nil
}

func (e *Engine) nightEvent(g *MafiaGame) string {
	alive := g.alivePlayers()
	target := alive[e.rng.IntN(len(alive))]
	tmpl := nightEventTemplates[e.rng.IntN(len(nightEventTemplates))]
	event := fmt.Sprintf(tmpl, target.Name)
	g.NightEvents = append(g.NightEvents, event)
	return event
}

// handleMafiaCommand dispatches a phase command through the transition table.
func (e *Engine) handleMafiaCommand(in Input, cmd Command) (Result, error) {
	g, ok := e.mafia[in.RoomID]
	if !ok {
		return Result{}, nil
	}
	if _, ok := g.player(in.UserID); !ok {
		return Result{}, cerrors.GameRuleViolation{Message: msgNotParticipant}
	}

	if cmd.Kind == CommandMafiaEnd {
		return e.endMafia(g, mafiaEndMessage(e.mafiaName(g)), ""), nil
	}

	action, ok := mafiaTransitions[phaseCommand{g.Phase, cmd.Kind}]
	if !ok {
		return Result{}, cerrors.GameRuleViolation{Message: mafiaWrongPhaseMessage(g.Phase, cmd.Kind)}
	}
	return action(e, g, in, cmd)
}

func (e *Engine) beginDiscussion(g *MafiaGame, _ Input, _ Command) (Result, error) {
	g.Phase = PhaseDay
	return Result{
		Handled:    true,
		Responses:  []string{mafiaDayMessage(g.Day, g.alivePlayers())},
		MafiaState: g.snapshot(""),
	}, nil
}

func (e *Engine) beginVoting(g *MafiaGame, _ Input, _ Command) (Result, error) {
	g.Phase = PhaseVoting
	clear(g.Votes)
	return Result{
		Handled:    true,
		Responses:  []string{mafiaVotingMessage(g.alivePlayers())},
		MafiaState: g.snapshot(""),
	}, nil
}

func (e *Engine) castVote(g *MafiaGame, in Input, cmd Command) (Result, error) {
	if !g.isAlive(in.UserID) {
		return Result{}, cerrors.GameRuleViolation{Message: msgDeadVoter}
	}
	target, ok := g.resolveAlive(cmd.Target)
	if !ok {
		return Result{}, cerrors.GameRuleViolation{Message: mafiaUnknownTargetMessage(cmd.Target)}
	}
	g.Votes[in.UserID] = target.ID

	voter, _ := g.player(in.UserID)
	responses := []string{mafiaVoteCastMessage(voter.Name, len(g.Votes), len(g.AliveIDs))}
	if len(g.Votes) < len(g.AliveIDs) {
		return Result{Handled: true, Responses: responses, MafiaState: g.snapshot("")}, nil
	}

	eliminated, lines := g.tally()
	wasMafia := eliminated.ID == g.MafiaID
	g.eliminate(eliminated.ID)
	responses = append(responses, mafiaTallyMessage(lines, eliminated.Name, wasMafia))
	e.log.Info("mafia_player_eliminated", "room_id", g.RoomID, "day", g.Day, "was_mafia", wasMafia)

	switch {
	case !g.isAlive(g.MafiaID):
		res := e.endMafia(g, mafiaCitizensWinMessage(e.mafiaName(g)), "citizens")
		res.Responses = append(responses, res.Responses...)
		return res, nil
	case g.aliveCitizens() <= 1:
		res := e.endMafia(g, mafiaMafiaWinMessage(e.mafiaName(g)), "mafia")
		res.Responses = append(responses, res.Responses...)
		return res, nil
	}

	g.Phase = PhaseNight
	g.Day++
	clear(g.Votes)
	responses = append(responses, mafiaNightMessage(g.Day, e.nightEvent(g)))
	return Result{Handled: true, Responses: responses, MafiaState: g.snapshot("")}, nil
}

func (e *Engine) endMafia(g *MafiaGame, msg, winner string) Result {
	g.Phase = PhaseEnded
	delete(e.mafia, g.RoomID)
	e.log.Info("mafia_game_ended", "room_id", g.RoomID, "winner", winner, "day", g.Day)
	return Result{
		Handled:    true,
		Responses:  []string{msg},
		MafiaState: g.snapshot(winner),
	}
}

func (e *Engine) mafiaName(g *MafiaGame) string {
	p, _ := g.player(g.MafiaID)
	return p.Name
}
