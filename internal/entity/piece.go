package entity

import "strconv"

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"

	NoTeam Team = ""
)

// Opponent returns the other side of the board.
func (that Team) Opponent() Team {
	if that == TeamA {
		return TeamB
	}
	return TeamA
}

func (that Team) IsValid() bool {
	return that == TeamA || that == TeamB
}

type Rank int

const (
	Pawn Rank = iota + 1
	HeroStraight
	HeroDiagonal
)

func (that Rank) IsHero() bool {
	return that == HeroStraight || that == HeroDiagonal
}

// Code is the letter used in piece labels.
func (that Rank) Code() string {
	if that.IsHero() {
		return "H"
	}
	return "P"
}

func (that Rank) String() string {
	switch that {
	case Pawn:
		return "pawn"
	case HeroStraight:
		return "hero-straight"
	case HeroDiagonal:
		return "hero-diagonal"
	default:
		return "unknown"
	}
}

// Piece is an immutable value. Index only distinguishes same-rank pieces in labels.
type Piece struct {
	Team  Team
	Rank  Rank
	Index int
}

// IsZero reports an empty cell.
func (that Piece) IsZero() bool {
	return that == Piece{}
}

func (that Piece) IsEnemyOf(other Piece) bool {
	return !that.IsZero() && !other.IsZero() && that.Team != other.Team
}

// String renders the wire label, e.g. "A-P1" or "B-H2".
func (that Piece) String() string {
	return string(that.Team) + "-" + that.Rank.Code() + strconv.Itoa(that.Index)
}
