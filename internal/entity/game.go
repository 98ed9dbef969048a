package entity

import "strings"

// MoveRecord is appended to the history once a move is applied and never changes afterwards.
type MoveRecord struct {
	Piece    Piece
	From     Position
	To       Position
	Captured []Piece
}

// String renders the history line, e.g. "A-H1: c5 to c3 (Captured B-P1)".
func (that MoveRecord) String() string {
	var sb strings.Builder

	sb.WriteString(that.Piece.String())
	sb.WriteString(": ")
	sb.WriteString(that.From.Square())
	sb.WriteString(" to ")
	sb.WriteString(that.To.Square())

	if len(that.Captured) > 0 {
		labels := make([]string, 0, len(that.Captured))
		for _, piece := range that.Captured {
			labels = append(labels, piece.String())
		}

		sb.WriteString(" (Captured ")
		sb.WriteString(strings.Join(labels, ", "))
		sb.WriteString(")")
	}

	return sb.String()
}

// State is a snapshot of a game. It shares no memory with the game it was taken from.
type State struct {
	Board       Board
	CurrentTurn Team
	History     []MoveRecord
	Terminal    bool
	Winner      Team
}

// Labels renders the board as wire labels, empty cells are nil.
func (that State) Labels() [][]*string {
	rows := make([][]*string, BoardSize)
	for r := range that.Board {
		rows[r] = make([]*string, BoardSize)
		for c, cell := range that.Board[r] {
			if cell.IsZero() {
				continue
			}
			label := cell.String()
			rows[r][c] = &label
		}
	}
	return rows
}

func (that State) HistoryLines() []string {
	lines := make([]string, 0, len(that.History))
	for _, record := range that.History {
		lines = append(lines, record.String())
	}
	return lines
}

// StateView is the wire shape of a snapshot.
type StateView struct {
	Board         [][]*string `json:"board"`
	CurrentPlayer Team        `json:"currentPlayer"`
	MoveHistory   []string    `json:"moveHistory"`
	GameOver      bool        `json:"gameOver"`
	Winner        *Team       `json:"winner"`
}

func (that State) View() StateView {
	view := StateView{
		Board:         that.Labels(),
		CurrentPlayer: that.CurrentTurn,
		MoveHistory:   that.HistoryLines(),
		GameOver:      that.Terminal,
	}

	if that.Winner.IsValid() {
		winner := that.Winner
		view.Winner = &winner
	}

	return view
}
