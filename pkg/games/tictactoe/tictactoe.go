// Package tictactoe is a complete reference game built on pkg/session. It
// exercises the whole backend command surface: deltas, full resets, kicks,
// room termination and the restart timer.
package tictactoe

import (
	"github.com/boardgamehub/relay/pkg/session"
)

// Cell contents of the board.
const (
	CellEmpty  uint8 = 0
	CellCross  uint8 = 1
	CellCircle uint8 = 2
)

// Game results. ResultPending means the game is still running.
const (
	ResultPending    uint8 = 0
	ResultCrossWins  uint8 = 1
	ResultCircleWins uint8 = 2
	ResultDraw       uint8 = 3
)

// RuleAllowSpectators is the rule variation under which players beyond the
// two seats may stay and watch. Under any other variation they are kicked.
const RuleAllowSpectators uint16 = 1

// The finished board stays visible for a moment before the rematch starts.
const (
	restartTimerID uint16  = 0
	restartDelay   float64 = 5.0
)

// Move is both the RPC a player submits and the delta broadcast to all
// clients. IsCircle is filled in by the backend from the moving player, a
// client's claim about it is ignored.
type Move struct {
	IsCircle bool
	Column   uint8
	Row      uint8
}

// View is the complete board representation. Board is indexed [row][column].
type View struct {
	Board        [3][3]uint8
	NextMoveHost bool
	Result       uint8
}

// NewView creates an empty board. hostStarts decides who places first; the
// host always plays circle, player 1 plays cross.
func NewView(hostStarts bool) View {
	return View{NextMoveHost: hostStarts}
}

// Legal reports whether player may place at the move's position right now.
// Spectators never move; the two seats alternate; the cell must be free.
func (v *View) Legal(player uint16, m Move) bool {
	if player > 1 {
		return false
	}
	if (player == 0) != v.NextMoveHost {
		return false
	}
	if m.Row > 2 || m.Column > 2 {
		return false
	}
	return v.Board[m.Row][m.Column] == CellEmpty
}

// ApplyMove places the stone, passes the turn and re-evaluates the result.
// Clients call this for every incremental update they poll.
func (v *View) ApplyMove(m Move) {
	stone := CellCross
	if m.IsCircle {
		stone = CellCircle
	}
	v.Board[m.Row][m.Column] = stone
	v.NextMoveHost = !v.NextMoveHost
	v.Result = v.evaluate()
}

func (v *View) evaluate() uint8 {
	if v.lineOf(CellCross) {
		return ResultCrossWins
	}
	if v.lineOf(CellCircle) {
		return ResultCircleWins
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			if v.Board[row][col] == CellEmpty {
				return ResultPending
			}
		}
	}
	return ResultDraw
}

func (v *View) lineOf(stone uint8) bool {
	for i := 0; i < 3; i++ {
		if v.Board[i][0] == stone && v.Board[i][1] == stone && v.Board[i][2] == stone {
			return true
		}
		if v.Board[0][i] == stone && v.Board[1][i] == stone && v.Board[2][i] == stone {
			return true
		}
	}
	if v.Board[0][0] == stone && v.Board[1][1] == stone && v.Board[2][2] == stone {
		return true
	}
	return v.Board[0][2] == stone && v.Board[1][1] == stone && v.Board[2][0] == stone
}

// Logic is the authoritative game backend, run only on the host.
type Logic struct {
	hostStarting    bool
	commands        []session.Command
	view            View
	allowSpectators bool
}

var _ session.Backend[Move, Move, View] = (*Logic)(nil)

// NewBackend builds the host backend for one room. It satisfies
// session.BackendFactory.
func NewBackend(ruleVariation uint16) session.Backend[Move, Move, View] {
	return &Logic{
		hostStarting:    true,
		view:            NewView(true),
		allowSpectators: ruleVariation == RuleAllowSpectators,
	}
}

// PlayerArrival rejects everyone beyond the second seat unless spectators
// are allowed.
func (l *Logic) PlayerArrival(player uint16) {
	if !l.allowSpectators && player > 1 {
		l.commands = append(l.commands, session.KickPlayer{Player: player})
	}
}

// PlayerDeparture ends the room when the playing partner leaves. Departing
// spectators are ignored.
func (l *Logic) PlayerDeparture(player uint16) {
	if player == 1 {
		l.commands = append(l.commands, session.TerminateRoom{})
	}
}

// InformRPC validates and applies a stone placement. Illegal moves are
// silently dropped. A finishing move arms the restart timer.
func (l *Logic) InformRPC(player uint16, payload Move) {
	if l.view.Result != ResultPending {
		return
	}
	if !l.view.Legal(player, payload) {
		return
	}
	payload.IsCircle = player == 0
	l.view.ApplyMove(payload)
	l.commands = append(l.commands, session.Delta[Move]{Payload: payload})
	if l.view.Result != ResultPending {
		l.commands = append(l.commands, session.SetTimer{
			TimerID:  restartTimerID,
			Duration: restartDelay,
		})
	}
}

// TimerTriggered starts the rematch with the starting player swapped.
func (l *Logic) TimerTriggered(uint16) {
	l.hostStarting = !l.hostStarting
	l.commands = append(l.commands, session.ResetViewState{})
	l.view = NewView(l.hostStarting)
}

func (l *Logic) ViewState() View { return l.view }

func (l *Logic) DrainCommands() []session.Command {
	cmds := l.commands
	l.commands = nil
	return cmds
}
