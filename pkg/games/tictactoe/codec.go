package tictactoe

import (
	"errors"

	"github.com/boardgamehub/relay/pkg/session"
)

// Wire sizes. Moves are three bytes, the full board is eleven.
const (
	moveSize = 3
	viewSize = 11
)

var (
	errBadMoveSize = errors.New("move payload has wrong size")
	errBadViewSize = errors.New("view payload has wrong size")
)

// Codec is the fixed-width wire format for tic-tac-toe. A move encodes as
// [isCircle][column][row]; the view as nine board cells in row-major order
// followed by the turn flag and the result byte. Since deltas are fixed
// width, a concatenated delta frame splits without length prefixes.
type Codec struct{}

var _ session.Codec[Move, Move, View] = Codec{}

func encodeMove(m Move) []byte {
	data := make([]byte, moveSize)
	if m.IsCircle {
		data[0] = 1
	}
	data[1] = m.Column
	data[2] = m.Row
	return data
}

func decodeMove(data []byte) Move {
	return Move{
		IsCircle: data[0] != 0,
		Column:   data[1],
		Row:      data[2],
	}
}

func (Codec) EncodeRPC(m Move) ([]byte, error) { return encodeMove(m), nil }

func (Codec) DecodeRPC(data []byte) (Move, error) {
	if len(data) != moveSize {
		return Move{}, errBadMoveSize
	}
	return decodeMove(data), nil
}

func (Codec) EncodeDelta(m Move) ([]byte, error) { return encodeMove(m), nil }

func (Codec) DecodeDelta(data []byte) (Move, []byte, error) {
	if len(data) < moveSize {
		return Move{}, nil, errBadMoveSize
	}
	return decodeMove(data), data[moveSize:], nil
}

func (Codec) EncodeView(v View) ([]byte, error) {
	data := make([]byte, 0, viewSize)
	for row := 0; row < 3; row++ {
		data = append(data, v.Board[row][:]...)
	}
	if v.NextMoveHost {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	data = append(data, v.Result)
	return data, nil
}

func (Codec) DecodeView(data []byte) (View, error) {
	if len(data) != viewSize {
		return View{}, errBadViewSize
	}
	var v View
	for row := 0; row < 3; row++ {
		copy(v.Board[row][:], data[row*3:row*3+3])
	}
	v.NextMoveHost = data[9] != 0
	v.Result = data[10]
	return v, nil
}
