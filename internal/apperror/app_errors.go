package apperror

import "errors"

// ErrRejectedMove is the class every illegal move belongs to. The engine state is untouched when it is returned.
var ErrRejectedMove = errors.New("move rejected")

var (
	ErrGameFinished        = rejected("game is already finished")
	ErrOutOfBounds         = rejected("position is outside the board")
	ErrEmptyCell           = rejected("no piece at origin")
	ErrNotYourTurn         = rejected("it's not your turn")
	ErrFriendlyDestination = rejected("destination is occupied by a friendly piece")
	ErrIllegalShape        = rejected("piece cannot move that way")
)

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrAlreadyConnected = errors.New("participant is already in a match")
	ErrUnknownType      = errors.New("unknown message type")
)

type rejectedMove struct {
	reason string
}

func rejected(reason string) error {
	return &rejectedMove{reason: reason}
}

func (that *rejectedMove) Error() string {
	return that.reason
}

func (that *rejectedMove) Is(target error) bool {
	return target == ErrRejectedMove //nolint: errorlint // sentinel comparison
}

// IsRejectedMove reports whether err is a move the engine refused to apply.
func IsRejectedMove(err error) bool {
	return errors.Is(err, ErrRejectedMove)
}
