package entity

import "strconv"

const BoardSize = 5

type Position struct {
	Row int
	Col int
}

func (that Position) InBounds() bool {
	return that.Row >= 0 && that.Row < BoardSize && that.Col >= 0 && that.Col < BoardSize
}

// Square is the algebraic name of the cell: column 0 is 'a', row 0 is rank 5.
func (that Position) Square() string {
	return string(rune('a'+that.Col)) + strconv.Itoa(BoardSize-that.Row)
}

type Move struct {
	From Position
	To   Position
}

// Board is a value type, copying it copies every cell.
type Board [BoardSize][BoardSize]Piece

func (that *Board) At(pos Position) Piece {
	return that[pos.Row][pos.Col]
}

func (that *Board) Set(pos Position, piece Piece) {
	that[pos.Row][pos.Col] = piece
}

func (that *Board) Clear(pos Position) {
	that[pos.Row][pos.Col] = Piece{}
}

// Count returns how many pieces the team still has on the board.
func (that *Board) Count(team Team) int {
	count := 0
	for _, row := range that {
		for _, cell := range row {
			if !cell.IsZero() && cell.Team == team {
				count++
			}
		}
	}
	return count
}
