package herochess

import (
	"fmt"
	"slices"

	"github.com/rocketscienceinc/herochess-backend/internal/apperror"
	"github.com/rocketscienceinc/herochess-backend/internal/entity"
)

// backRank is the rank pattern of a team's home row, columns 0 to 4.
var backRank = [entity.BoardSize]entity.Piece{
	{Rank: entity.Pawn, Index: 1},
	{Rank: entity.Pawn, Index: 2},
	{Rank: entity.HeroStraight, Index: 1},
	{Rank: entity.HeroDiagonal, Index: 2},
	{Rank: entity.Pawn, Index: 3},
}

// Game owns one board and is the only thing allowed to mutate it. It is not safe for concurrent use,
// callers serialize access.
type Game struct {
	board    entity.Board
	turn     entity.Team
	history  []entity.MoveRecord
	terminal bool
	winner   entity.Team
}

// NewGame returns a game in the initial layout with team A to move.
func NewGame() *Game {
	var board entity.Board

	for col, piece := range backRank {
		board[0][col] = entity.Piece{Team: entity.TeamA, Rank: piece.Rank, Index: piece.Index}
		board[entity.BoardSize-1][col] = entity.Piece{Team: entity.TeamB, Rank: piece.Rank, Index: piece.Index}
	}

	return NewGameWithBoard(board, entity.TeamA)
}

// NewGameWithBoard starts a game from an arbitrary position.
func NewGameWithBoard(board entity.Board, turn entity.Team) *Game {
	return &Game{board: board, turn: turn}
}

// ValidateMove checks the destination and the shape of a move for the given piece.
// It does not look at whose turn it is.
func (that *Game) ValidateMove(piece entity.Piece, from, to entity.Position) error {
	if !to.InBounds() {
		return apperror.ErrOutOfBounds
	}

	if dest := that.board.At(to); !dest.IsZero() && dest.Team == piece.Team {
		return apperror.ErrFriendlyDestination
	}

	if !legalShape(piece.Rank, to.Row-from.Row, to.Col-from.Col) {
		return apperror.ErrIllegalShape
	}

	return nil
}

// ApplyMove moves the piece at from to to. On error nothing changes.
func (that *Game) ApplyMove(from, to entity.Position) (entity.MoveRecord, error) {
	if that.terminal {
		return entity.MoveRecord{}, apperror.ErrGameFinished
	}

	if !from.InBounds() {
		return entity.MoveRecord{}, fmt.Errorf("origin %v: %w", from, apperror.ErrOutOfBounds)
	}

	piece := that.board.At(from)
	if piece.IsZero() {
		return entity.MoveRecord{}, apperror.ErrEmptyCell
	}

	if piece.Team != that.turn {
		return entity.MoveRecord{}, apperror.ErrNotYourTurn
	}

	if err := that.ValidateMove(piece, from, to); err != nil {
		return entity.MoveRecord{}, fmt.Errorf("invalid move %s: %w", piece, err)
	}

	var captured []entity.Piece

	if piece.Rank.IsHero() {
		captured = that.capturePath(piece, from, to)
	}

	if dest := that.board.At(to); piece.IsEnemyOf(dest) {
		captured = append(captured, dest)
	}

	that.board.Set(to, piece)
	that.board.Clear(from)

	record := entity.MoveRecord{
		Piece:    piece,
		From:     from,
		To:       to,
		Captured: captured,
	}
	that.history = append(that.history, record)

	that.updateGameStatus()

	return cloneRecord(record), nil
}

// State returns a snapshot that shares no memory with the game.
func (that *Game) State() entity.State {
	history := make([]entity.MoveRecord, 0, len(that.history))
	for _, record := range that.history {
		history = append(history, cloneRecord(record))
	}

	return entity.State{
		Board:       that.board,
		CurrentTurn: that.turn,
		History:     history,
		Terminal:    that.terminal,
		Winner:      that.winner,
	}
}

func (that *Game) IsFinished() bool {
	return that.terminal
}

// capturePath removes every enemy strictly between from and to. Friendly pieces stay where they are.
func (that *Game) capturePath(piece entity.Piece, from, to entity.Position) []entity.Piece {
	var captured []entity.Piece

	rowStep, colStep := sign(to.Row-from.Row), sign(to.Col-from.Col)

	for pos := (entity.Position{Row: from.Row + rowStep, Col: from.Col + colStep}); pos != to; {
		if cell := that.board.At(pos); piece.IsEnemyOf(cell) {
			captured = append(captured, cell)
			that.board.Clear(pos)
		}

		pos.Row += rowStep
		pos.Col += colStep
	}

	return captured
}

// updateGameStatus ends the game when a side has no pieces left, otherwise passes the turn.
func (that *Game) updateGameStatus() {
	aOut := that.board.Count(entity.TeamA) == 0
	bOut := that.board.Count(entity.TeamB) == 0

	if aOut {
		that.terminal = true
		that.winner = entity.TeamB
	}

	if bOut {
		that.terminal = true
		that.winner = entity.TeamA
	}

	// nobody left standing, nobody wins
	if aOut && bOut {
		that.winner = entity.NoTeam
	}

	if !that.terminal {
		that.turn = that.turn.Opponent()
	}
}

func legalShape(rank entity.Rank, dRow, dCol int) bool {
	aRow, aCol := abs(dRow), abs(dCol)

	switch rank {
	case entity.Pawn:
		return (aRow == 1 && dCol == 0) || (dRow == 0 && aCol == 1)
	case entity.HeroStraight:
		return (aRow == 2 && dCol == 0) || (aCol == 2 && dRow == 0)
	case entity.HeroDiagonal:
		return aRow == 2 && aCol == 2
	default:
		return false
	}
}

func cloneRecord(record entity.MoveRecord) entity.MoveRecord {
	record.Captured = slices.Clone(record.Captured)
	return record
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
