package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/herochess-backend/internal/entity"
)

// connection is a participant backed by one websocket. gorilla allows one concurrent writer, writeMu enforces it.
type connection struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func newConnection(conn *websocket.Conn, writeTimeout time.Duration) *connection {
	return &connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (that *connection) ID() string {
	return that.id
}

func (that *connection) SendState(ctx context.Context, state entity.State) error {
	return that.send(ctx, StateMessage{Type: typeGameState, State: state.View()})
}

func (that *connection) SendGameOver(ctx context.Context, winner entity.Team) error {
	return that.send(ctx, GameOverMessage{Type: typeGameOver, Winner: winner})
}

func (that *connection) send(ctx context.Context, payload any) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	deadline := time.Now().Add(that.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := that.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := that.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}
