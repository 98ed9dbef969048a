package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/herochess-backend/internal/apperror"
	"github.com/rocketscienceinc/herochess-backend/internal/entity"
	"github.com/rocketscienceinc/herochess-backend/internal/herochess"
	"github.com/rocketscienceinc/herochess-backend/internal/repository"
)

const participantsPerMatch = 2

// Participant is one connected client. Sends must not call back into the registry.
type Participant interface {
	ID() string
	SendState(ctx context.Context, state entity.State) error
	SendGameOver(ctx context.Context, winner entity.Team) error
}

type matchRepo interface {
	CreateOrUpdate(ctx context.Context, match *entity.MatchSnapshot) error
	GetByID(ctx context.Context, id string) (*entity.MatchSnapshot, error)
	DeleteByID(ctx context.Context, id string) error
}

type match struct {
	id string

	// seats is the pairing view of the match, guarded by the registry lock.
	seats []Participant

	// mu serializes the game, the members that receive broadcasts and every send for this match.
	mu      sync.Mutex
	game    *herochess.Game
	members []Participant
	retired bool
}

// Stats is a point-in-time count of the registry.
type Stats struct {
	Matches      int `json:"matches"`
	OpenMatches  int `json:"openMatches"`
	Participants int `json:"participants"`
}

// MatchRegistry pairs participants into matches and routes their moves.
// The registry lock is never held while waiting for a match lock.
type MatchRegistry struct {
	logger  *slog.Logger
	repo    matchRepo
	newGame func() *herochess.Game

	mu            sync.Mutex
	matches       []*match
	byParticipant map[string]*match
}

// NewMatchRegistry returns an empty registry. repo may be nil, then matches are not mirrored.
func NewMatchRegistry(logger *slog.Logger, repo matchRepo) *MatchRegistry {
	return &MatchRegistry{
		logger:  logger.With("component", "match_registry"),
		repo:    repo,
		newGame: herochess.NewGame,

		byParticipant: make(map[string]*match),
	}
}

// Connect puts the participant into the newest match if it still has a free seat, otherwise into a new one,
// and sends it the current state. It returns the match id.
func (that *MatchRegistry) Connect(ctx context.Context, participant Participant) (string, error) {
	log := that.logger.With("method", "Connect", "participantID", participant.ID())

	that.mu.Lock()

	if _, ok := that.byParticipant[participant.ID()]; ok {
		that.mu.Unlock()
		return "", apperror.ErrAlreadyConnected
	}

	current := that.latestMatch()
	if current == nil || len(current.seats) >= participantsPerMatch {
		current = &match{
			id:   uuid.NewString(),
			game: that.newGame(),
		}
		that.matches = append(that.matches, current)

		log.Info("match created", "matchID", current.id)
	}

	current.seats = append(current.seats, participant)
	that.byParticipant[participant.ID()] = current

	that.mu.Unlock()

	log = log.With("matchID", current.id)

	current.mu.Lock()
	defer current.mu.Unlock()

	if current.retired {
		log.Info("match retired before the participant joined")
		return current.id, nil
	}

	current.members = append(current.members, participant)
	log.Info("participant joined", "participants", len(current.members))

	state := current.game.State()
	that.mirror(ctx, current, state)

	if err := participant.SendState(ctx, state); err != nil {
		return current.id, fmt.Errorf("failed to send initial state: %w", err)
	}

	return current.id, nil
}

// Move applies a move for the participant's match and broadcasts the result. Rejected moves and unknown
// participants return an error and nothing is sent.
func (that *MatchRegistry) Move(ctx context.Context, participant Participant, move entity.Move) error {
	that.mu.Lock()
	current, ok := that.byParticipant[participant.ID()]
	that.mu.Unlock()

	if !ok {
		return apperror.ErrMatchNotFound
	}

	current.mu.Lock()
	defer current.mu.Unlock()

	if current.retired {
		return apperror.ErrMatchNotFound
	}

	record, err := current.game.ApplyMove(move.From, move.To)
	if err != nil {
		return fmt.Errorf("failed to apply move: %w", err)
	}

	log := that.logger.With("method", "Move", "matchID", current.id)
	log.Info("move applied", "move", record.String())

	state := current.game.State()
	that.mirror(ctx, current, state)

	for _, receiver := range current.members {
		if err = receiver.SendState(ctx, state); err != nil {
			log.Error("failed to send game state", "participantID", receiver.ID(), "error", err)
		}
	}

	if !current.game.IsFinished() {
		return nil
	}

	log.Info("game over", "winner", state.Winner)

	for _, receiver := range current.members {
		if err = receiver.SendGameOver(ctx, state.Winner); err != nil {
			log.Error("failed to send game over", "participantID", receiver.ID(), "error", err)
		}
	}

	return nil
}

// Disconnect retires the participant's match. The peer stays connected but no longer has a match.
func (that *MatchRegistry) Disconnect(ctx context.Context, participant Participant) error {
	log := that.logger.With("method", "Disconnect", "participantID", participant.ID())

	that.mu.Lock()

	current, ok := that.byParticipant[participant.ID()]
	if !ok {
		that.mu.Unlock()
		return apperror.ErrMatchNotFound
	}

	for _, seated := range current.seats {
		delete(that.byParticipant, seated.ID())
	}

	current.seats = nil

	for i, candidate := range that.matches {
		if candidate == current {
			that.matches = append(that.matches[:i], that.matches[i+1:]...)
			break
		}
	}

	that.mu.Unlock()

	// waits for an in-flight broadcast of this match only
	current.mu.Lock()
	current.members = nil
	current.retired = true
	current.mu.Unlock()

	log.Info("match retired", "matchID", current.id)

	if that.repo == nil {
		return nil
	}

	if err := that.repo.DeleteByID(ctx, current.id); err != nil && !errors.Is(err, repository.ErrMatchNotFound) {
		log.Error("failed to delete match snapshot", "matchID", current.id, "error", err)
	}

	return nil
}

// Snapshot returns the state of a live match, falling back to the mirror for matches held elsewhere.
func (that *MatchRegistry) Snapshot(ctx context.Context, id string) (*entity.MatchSnapshot, error) {
	that.mu.Lock()
	var found *match
	for _, candidate := range that.matches {
		if candidate.id == id {
			found = candidate
			break
		}
	}
	that.mu.Unlock()

	if found != nil {
		found.mu.Lock()
		defer found.mu.Unlock()

		return snapshotOf(found, found.game.State()), nil
	}

	if that.repo == nil {
		return nil, apperror.ErrMatchNotFound
	}

	snapshot, err := that.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrMatchNotFound) {
		return nil, apperror.ErrMatchNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get match snapshot: %w", err)
	}

	return snapshot, nil
}

func (that *MatchRegistry) Stats() Stats {
	that.mu.Lock()
	defer that.mu.Unlock()

	stats := Stats{
		Matches:      len(that.matches),
		Participants: len(that.byParticipant),
	}

	for _, candidate := range that.matches {
		if len(candidate.seats) < participantsPerMatch {
			stats.OpenMatches++
		}
	}

	return stats
}

// latestMatch returns the most recently created live match. Caller holds that.mu.
func (that *MatchRegistry) latestMatch() *match {
	if len(that.matches) == 0 {
		return nil
	}
	return that.matches[len(that.matches)-1]
}

// mirror stores the snapshot for other readers. Failures are logged, the game goes on. Caller holds current.mu.
func (that *MatchRegistry) mirror(ctx context.Context, current *match, state entity.State) {
	if that.repo == nil {
		return
	}

	if err := that.repo.CreateOrUpdate(ctx, snapshotOf(current, state)); err != nil {
		that.logger.Error("failed to mirror match", "matchID", current.id, "error", err)
	}
}

func snapshotOf(current *match, state entity.State) *entity.MatchSnapshot {
	return &entity.MatchSnapshot{
		ID:           current.id,
		Participants: len(current.members),
		State:        state.View(),
	}
}
