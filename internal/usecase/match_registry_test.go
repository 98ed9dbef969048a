package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/herochess-backend/internal/apperror"
	"github.com/rocketscienceinc/herochess-backend/internal/entity"
	"github.com/rocketscienceinc/herochess-backend/internal/herochess"
	"github.com/rocketscienceinc/herochess-backend/internal/repository"
)

var errRedisDown = errors.New("redis down")

// fakeParticipant records everything the registry sends to it.
type fakeParticipant struct {
	id string

	mu       sync.Mutex
	states   []entity.State
	gameOver []entity.Team
	sendErr  error
}

func newParticipant(id string) *fakeParticipant {
	return &fakeParticipant{id: id}
}

func (that *fakeParticipant) ID() string {
	return that.id
}

func (that *fakeParticipant) SendState(_ context.Context, state entity.State) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.states = append(that.states, state)
	return that.sendErr
}

func (that *fakeParticipant) SendGameOver(_ context.Context, winner entity.Team) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.gameOver = append(that.gameOver, winner)
	return that.sendErr
}

func (that *fakeParticipant) received() ([]entity.State, []entity.Team) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return append([]entity.State(nil), that.states...), append([]entity.Team(nil), that.gameOver...)
}

// stallingParticipant blocks in SendState once stalled, until released.
type stallingParticipant struct {
	*fakeParticipant

	stalled  chan struct{}
	entered  chan struct{}
	released chan struct{}
	once     sync.Once
}

func newStallingParticipant(id string) *stallingParticipant {
	return &stallingParticipant{
		fakeParticipant: newParticipant(id),
		stalled:         make(chan struct{}),
		entered:         make(chan struct{}),
		released:        make(chan struct{}),
	}
}

func (that *stallingParticipant) SendState(ctx context.Context, state entity.State) error {
	select {
	case <-that.stalled:
		that.once.Do(func() { close(that.entered) })
		<-that.released
	default:
	}

	return that.fakeParticipant.SendState(ctx, state)
}

type mockMatchRepo struct {
	mock.Mock
}

func (that *mockMatchRepo) CreateOrUpdate(ctx context.Context, match *entity.MatchSnapshot) error {
	return that.Called(ctx, match).Error(0)
}

func (that *mockMatchRepo) GetByID(ctx context.Context, id string) (*entity.MatchSnapshot, error) {
	args := that.Called(ctx, id)
	snapshot, _ := args.Get(0).(*entity.MatchSnapshot)
	return snapshot, args.Error(1)
}

func (that *mockMatchRepo) DeleteByID(ctx context.Context, id string) error {
	return that.Called(ctx, id).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func move(fromRow, fromCol, toRow, toCol int) entity.Move {
	return entity.Move{
		From: entity.Position{Row: fromRow, Col: fromCol},
		To:   entity.Position{Row: toRow, Col: toCol},
	}
}

func TestMatchRegistry_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("First participant gets a new match and its initial state", func(t *testing.T) {
		// Given: an empty registry
		registry := NewMatchRegistry(discardLogger(), nil)
		alice := newParticipant("alice")

		// When: a participant connects
		matchID, err := registry.Connect(ctx, alice)

		// Then: a match exists and the participant saw the initial board
		require.NoError(t, err)
		assert.NotEmpty(t, matchID)

		states, _ := alice.received()
		require.Len(t, states, 1)
		assert.Equal(t, herochess.NewGame().State(), states[0])
		assert.Equal(t, Stats{Matches: 1, OpenMatches: 1, Participants: 1}, registry.Stats())
	})

	t.Run("Second participant joins the open match", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)

		firstID, err := registry.Connect(ctx, newParticipant("alice"))
		require.NoError(t, err)

		secondID, err := registry.Connect(ctx, newParticipant("bob"))
		require.NoError(t, err)

		assert.Equal(t, firstID, secondID)
		assert.Equal(t, Stats{Matches: 1, OpenMatches: 0, Participants: 2}, registry.Stats())
	})

	t.Run("Third participant gets a fresh independent match", func(t *testing.T) {
		// Given: a full match where a move has already been played
		registry := NewMatchRegistry(discardLogger(), nil)
		alice, bob, carol := newParticipant("alice"), newParticipant("bob"), newParticipant("carol")

		firstID, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)
		require.NoError(t, registry.Move(ctx, alice, move(0, 0, 1, 0)))

		// When: a third participant connects
		thirdID, err := registry.Connect(ctx, carol)
		require.NoError(t, err)

		// Then: it is alone in a new match with an untouched board
		assert.NotEqual(t, firstID, thirdID)

		states, _ := carol.received()
		require.Len(t, states, 1)
		assert.Equal(t, herochess.NewGame().State(), states[0])
		assert.Equal(t, Stats{Matches: 2, OpenMatches: 1, Participants: 3}, registry.Stats())
	})

	t.Run("Joiner of a started match sees the current state", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)
		alice, bob := newParticipant("alice"), newParticipant("bob")

		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		require.NoError(t, registry.Move(ctx, alice, move(0, 0, 1, 0)))

		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)

		states, _ := bob.received()
		require.Len(t, states, 1)
		assert.Len(t, states[0].History, 1)
		assert.Equal(t, entity.TeamB, states[0].CurrentTurn)
	})

	t.Run("Same participant cannot connect twice", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)
		alice := newParticipant("alice")

		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)

		_, err = registry.Connect(ctx, alice)
		require.ErrorIs(t, err, apperror.ErrAlreadyConnected)
	})

	t.Run("Failed initial send still seats the participant", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)
		alice := newParticipant("alice")
		alice.sendErr = io.ErrClosedPipe

		_, err := registry.Connect(ctx, alice)

		require.ErrorIs(t, err, io.ErrClosedPipe)
		assert.Equal(t, 1, registry.Stats().Participants)
	})
}

func TestMatchRegistry_Move(t *testing.T) {
	ctx := context.Background()

	t.Run("Accepted move is broadcast to both participants", func(t *testing.T) {
		// Given: a full match
		registry := NewMatchRegistry(discardLogger(), nil)
		alice, bob := newParticipant("alice"), newParticipant("bob")
		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)

		// When: a legal move is submitted
		err = registry.Move(ctx, alice, move(0, 3, 2, 1))

		// Then: both receive the same new state and no game over
		require.NoError(t, err)

		aliceStates, aliceOver := alice.received()
		bobStates, bobOver := bob.received()

		require.Len(t, aliceStates, 2)
		require.Len(t, bobStates, 2)
		assert.Equal(t, aliceStates[1], bobStates[1])
		assert.Equal(t, entity.TeamB, bobStates[1].CurrentTurn)
		assert.Equal(t, "A-H2: d5 to b3", bobStates[1].History[0].String())
		assert.Empty(t, aliceOver)
		assert.Empty(t, bobOver)
	})

	t.Run("Rejected move is not broadcast", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)
		alice, bob := newParticipant("alice"), newParticipant("bob")
		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)

		// When: B tries to move first
		err = registry.Move(ctx, bob, move(4, 0, 3, 0))

		// Then: the move is rejected and nobody hears about it
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		assert.True(t, apperror.IsRejectedMove(err))

		aliceStates, _ := alice.received()
		bobStates, _ := bob.received()
		assert.Len(t, aliceStates, 1)
		assert.Len(t, bobStates, 1)
	})

	t.Run("Unknown participant is ignored", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)

		err := registry.Move(ctx, newParticipant("ghost"), move(0, 0, 1, 0))

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})

	t.Run("Terminal move sends state then game over", func(t *testing.T) {
		// Given: a match where A can take B's last piece
		var board entity.Board
		board.Set(entity.Position{Row: 2, Col: 2}, entity.Piece{Team: entity.TeamA, Rank: entity.Pawn, Index: 1})
		board.Set(entity.Position{Row: 3, Col: 2}, entity.Piece{Team: entity.TeamB, Rank: entity.Pawn, Index: 1})

		registry := NewMatchRegistry(discardLogger(), nil)
		registry.newGame = func() *herochess.Game {
			return herochess.NewGameWithBoard(board, entity.TeamA)
		}

		alice, bob := newParticipant("alice"), newParticipant("bob")
		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)

		// When: A captures
		require.NoError(t, registry.Move(ctx, alice, move(2, 2, 3, 2)))

		// Then: both get the terminal state and one game over naming A
		for _, participant := range []*fakeParticipant{alice, bob} {
			states, over := participant.received()
			require.Len(t, states, 2)
			assert.True(t, states[1].Terminal)
			assert.Equal(t, entity.TeamA, states[1].Winner)
			assert.Equal(t, []entity.Team{entity.TeamA}, over)
		}

		// Then: further moves are rejected silently
		err = registry.Move(ctx, bob, move(0, 0, 1, 0))
		require.ErrorIs(t, err, apperror.ErrGameFinished)

		states, over := bob.received()
		assert.Len(t, states, 2)
		assert.Len(t, over, 1)
	})

	t.Run("Failed send does not stop the broadcast", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)
		alice, bob := newParticipant("alice"), newParticipant("bob")
		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)

		alice.sendErr = io.ErrClosedPipe

		require.NoError(t, registry.Move(ctx, alice, move(0, 0, 1, 0)))

		bobStates, _ := bob.received()
		assert.Len(t, bobStates, 2)
	})
}

func TestMatchRegistry_Disconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Match is retired for both participants", func(t *testing.T) {
		// Given: a full match
		registry := NewMatchRegistry(discardLogger(), nil)
		alice, bob := newParticipant("alice"), newParticipant("bob")
		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, bob)
		require.NoError(t, err)

		// When: one of them leaves
		require.NoError(t, registry.Disconnect(ctx, alice))

		// Then: the peer no longer has a match
		err = registry.Move(ctx, bob, move(0, 0, 1, 0))
		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
		assert.Equal(t, Stats{}, registry.Stats())

		// Then: the second disconnect is a miss
		require.ErrorIs(t, registry.Disconnect(ctx, bob), apperror.ErrMatchNotFound)
	})

	t.Run("Next participant starts a new match", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)
		alice := newParticipant("alice")

		firstID, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		require.NoError(t, registry.Disconnect(ctx, alice))

		secondID, err := registry.Connect(ctx, newParticipant("bob"))
		require.NoError(t, err)

		assert.NotEqual(t, firstID, secondID)
	})

	t.Run("Dropped peer can connect again into a new match", func(t *testing.T) {
		// Given: two full matches
		registry := NewMatchRegistry(discardLogger(), nil)
		a, b, c, d := newParticipant("a"), newParticipant("b"), newParticipant("c"), newParticipant("d")

		firstID, err := registry.Connect(ctx, a)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, b)
		require.NoError(t, err)
		secondID, err := registry.Connect(ctx, c)
		require.NoError(t, err)
		_, err = registry.Connect(ctx, d)
		require.NoError(t, err)

		// When: a leaves and its peer connects again
		require.NoError(t, registry.Disconnect(ctx, a))

		thirdID, err := registry.Connect(ctx, b)
		require.NoError(t, err)

		// Then: the peer lands in a brand-new match because the newest one is full
		assert.NotEqual(t, firstID, thirdID)
		assert.NotEqual(t, secondID, thirdID)
		assert.Equal(t, Stats{Matches: 2, OpenMatches: 1, Participants: 3}, registry.Stats())
	})
}

func TestMatchRegistry_Mirror(t *testing.T) {
	ctx := context.Background()

	t.Run("Snapshots follow the match lifecycle", func(t *testing.T) {
		// Given: a registry backed by a mirror
		repo := &mockMatchRepo{}
		registry := NewMatchRegistry(discardLogger(), repo)
		alice := newParticipant("alice")

		repo.On("CreateOrUpdate", mock.Anything, mock.MatchedBy(func(s *entity.MatchSnapshot) bool {
			return s.Participants == 1 && len(s.State.MoveHistory) == 0
		})).Return(nil).Once()
		repo.On("CreateOrUpdate", mock.Anything, mock.MatchedBy(func(s *entity.MatchSnapshot) bool {
			return len(s.State.MoveHistory) == 1 && s.State.CurrentPlayer == entity.TeamB
		})).Return(nil).Once()

		// When: a participant connects and moves
		matchID, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		require.NoError(t, registry.Move(ctx, alice, move(0, 0, 1, 0)))

		// Then: leaving drops the snapshot
		repo.On("DeleteByID", mock.Anything, matchID).Return(nil).Once()
		require.NoError(t, registry.Disconnect(ctx, alice))

		repo.AssertExpectations(t)
	})

	t.Run("Mirror failures do not affect the game", func(t *testing.T) {
		repo := &mockMatchRepo{}
		registry := NewMatchRegistry(discardLogger(), repo)
		alice := newParticipant("alice")

		repo.On("CreateOrUpdate", mock.Anything, mock.Anything).Return(errRedisDown)
		repo.On("DeleteByID", mock.Anything, mock.Anything).Return(repository.ErrMatchNotFound)

		_, err := registry.Connect(ctx, alice)
		require.NoError(t, err)
		require.NoError(t, registry.Move(ctx, alice, move(0, 0, 1, 0)))
		require.NoError(t, registry.Disconnect(ctx, alice))

		states, _ := alice.received()
		assert.Len(t, states, 2)
	})
}

func TestMatchRegistry_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("Live match is read from memory", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)

		matchID, err := registry.Connect(ctx, newParticipant("alice"))
		require.NoError(t, err)

		snapshot, err := registry.Snapshot(ctx, matchID)
		require.NoError(t, err)

		assert.Equal(t, matchID, snapshot.ID)
		assert.Equal(t, 1, snapshot.Participants)
		assert.Equal(t, entity.TeamA, snapshot.State.CurrentPlayer)
	})

	t.Run("Unknown match without a mirror", func(t *testing.T) {
		registry := NewMatchRegistry(discardLogger(), nil)

		_, err := registry.Snapshot(ctx, "nope")

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})

	t.Run("Unknown match falls back to the mirror", func(t *testing.T) {
		repo := &mockMatchRepo{}
		registry := NewMatchRegistry(discardLogger(), repo)

		mirrored := &entity.MatchSnapshot{ID: "elsewhere", Participants: 2}
		repo.On("GetByID", mock.Anything, "elsewhere").Return(mirrored, nil).Once()
		repo.On("GetByID", mock.Anything, "gone").Return(nil, repository.ErrMatchNotFound).Once()
		repo.On("GetByID", mock.Anything, "broken").Return(nil, errRedisDown).Once()

		snapshot, err := registry.Snapshot(ctx, "elsewhere")
		require.NoError(t, err)
		assert.Equal(t, mirrored, snapshot)

		_, err = registry.Snapshot(ctx, "gone")
		require.ErrorIs(t, err, apperror.ErrMatchNotFound)

		_, err = registry.Snapshot(ctx, "broken")
		require.ErrorIs(t, err, errRedisDown)

		repo.AssertExpectations(t)
	})
}

func TestMatchRegistry_ConcurrentMoves(t *testing.T) {
	ctx := context.Background()

	// Given: a full match
	registry := NewMatchRegistry(discardLogger(), nil)
	alice, bob := newParticipant("alice"), newParticipant("bob")
	_, err := registry.Connect(ctx, alice)
	require.NoError(t, err)
	_, err = registry.Connect(ctx, bob)
	require.NoError(t, err)

	// pawns shuffle between rows 0/1 and 4/3, only the side to move can succeed
	aMoves := []entity.Move{move(0, 0, 1, 0), move(1, 0, 0, 0)}
	bMoves := []entity.Move{move(4, 0, 3, 0), move(3, 0, 4, 0)}

	// When: both hammer the registry at the same time
	var wg sync.WaitGroup
	for _, side := range []struct {
		participant *fakeParticipant
		moves       []entity.Move
	}{{alice, aMoves}, {bob, bMoves}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = registry.Move(ctx, side.participant, side.moves[i%2])
			}
		}()
	}
	wg.Wait()

	// Then: every participant saw a gapless, ordered sequence of histories
	aliceStates, _ := alice.received()
	bobStates, _ := bob.received()

	require.Equal(t, len(aliceStates), len(bobStates))

	for i, state := range bobStates {
		assert.Len(t, state.History, i)
		assert.Equal(t, aliceStates[i], state)

		if i > 0 {
			assert.NotEqual(t, bobStates[i-1].CurrentTurn, state.CurrentTurn)
		}
	}
}

// finishesWithin fails the test if fn does not return in time.
func finishesWithin(t *testing.T, timeout time.Duration, name string, fn func() error) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		require.NoError(t, err, name)
	case <-time.After(timeout):
		t.Fatalf("%s did not finish within %s", name, timeout)
	}
}

func TestMatchRegistry_StuckSendStaysInItsMatch(t *testing.T) {
	ctx := context.Background()
	registry := NewMatchRegistry(discardLogger(), nil)

	// Given: a full first match and an open second match whose only member is stuck in a send
	alice, bob := newParticipant("alice"), newParticipant("bob")
	carol, dave := newStallingParticipant("carol"), newParticipant("dave")

	_, err := registry.Connect(ctx, alice)
	require.NoError(t, err)
	_, err = registry.Connect(ctx, bob)
	require.NoError(t, err)
	secondID, err := registry.Connect(ctx, carol)
	require.NoError(t, err)

	close(carol.stalled)

	carolDone := make(chan error, 1)
	go func() { carolDone <- registry.Move(ctx, carol, move(0, 0, 1, 0)) }()
	<-carol.entered

	// Given: a newcomer is seated in the stuck match and waits to receive its state
	daveDone := make(chan error, 1)
	go func() {
		_, connectErr := registry.Connect(ctx, dave)
		daveDone <- connectErr
	}()

	require.Eventually(t, func() bool {
		return registry.Stats().Participants == 4
	}, time.Second, 5*time.Millisecond)

	// When/Then: the first match and the registry keep working
	finishesWithin(t, time.Second, "move in first match", func() error {
		return registry.Move(ctx, alice, move(0, 0, 1, 0))
	})

	finishesWithin(t, time.Second, "connect into a new match", func() error {
		thirdID, connectErr := registry.Connect(ctx, newParticipant("erin"))
		assert.NotEqual(t, secondID, thirdID)
		return connectErr
	})

	finishesWithin(t, time.Second, "disconnect from first match", func() error {
		return registry.Disconnect(ctx, bob)
	})

	aliceStates, _ := alice.received()
	assert.Len(t, aliceStates, 2)
	assert.Equal(t, Stats{Matches: 2, OpenMatches: 1, Participants: 3}, registry.Stats())

	// When: the stuck send is released
	close(carol.released)

	// Then: the second match catches up in order
	require.NoError(t, <-carolDone)
	require.NoError(t, <-daveDone)

	daveStates, _ := dave.received()
	require.Len(t, daveStates, 1)
	assert.Len(t, daveStates[0].History, 1)
}
