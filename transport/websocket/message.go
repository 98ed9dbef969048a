package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/herochess-backend/internal/apperror"
	"github.com/rocketscienceinc/herochess-backend/internal/entity"
)

const (
	typeMove      = "move"
	typeGameState = "gameState"
	typeGameOver  = "gameOver"
)

var errMalformedMove = errors.New("malformed move")

// Message is the envelope of every inbound frame. Only "move" is understood.
type Message struct {
	Type string `json:"type"`
	From []int  `json:"from,omitempty"`
	To   []int  `json:"to,omitempty"`
}

type StateMessage struct {
	Type  string           `json:"type"`
	State entity.StateView `json:"state"`
}

type GameOverMessage struct {
	Type   string      `json:"type"`
	Winner entity.Team `json:"winner"`
}

func parseMessage(data []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if message.Type == "" {
		return nil, apperror.ErrUnknownType
	}

	return &message, nil
}

// Move converts the [row, col] pairs of a move message.
func (that *Message) Move() (entity.Move, error) {
	from, err := toPosition(that.From)
	if err != nil {
		return entity.Move{}, fmt.Errorf("from: %w", err)
	}

	to, err := toPosition(that.To)
	if err != nil {
		return entity.Move{}, fmt.Errorf("to: %w", err)
	}

	return entity.Move{From: from, To: to}, nil
}

func toPosition(pair []int) (entity.Position, error) {
	if len(pair) != 2 {
		return entity.Position{}, fmt.Errorf("%w: want [row, col], got %v", errMalformedMove, pair)
	}

	return entity.Position{Row: pair[0], Col: pair[1]}, nil
}
