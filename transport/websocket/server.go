package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/herochess-backend/internal/apperror"
	"github.com/rocketscienceinc/herochess-backend/internal/entity"
	"github.com/rocketscienceinc/herochess-backend/internal/usecase"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type matchRegistry interface {
	Connect(ctx context.Context, participant usecase.Participant) (string, error)
	Move(ctx context.Context, participant usecase.Participant, move entity.Move) error
	Disconnect(ctx context.Context, participant usecase.Participant) error
}

type Server struct {
	logger   *slog.Logger
	registry matchRegistry
	upgrader websocket.Upgrader

	handlers map[string]func(ctx context.Context, participant *connection, message *Message) error
}

// New returns a websocket server. An empty allowedOrigins accepts any origin.
func New(logger *slog.Logger, registry matchRegistry, allowedOrigins []string) *Server {
	server := &Server{
		logger:   logger.With("component", "websocket"),
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(req *http.Request) bool {
				return len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, req.Header.Get("Origin"))
			},
		},

		handlers: make(map[string]func(context.Context, *connection, *Message) error),
	}

	server.handlers[typeMove] = server.handleMove

	return server
}

// Handler serves the websocket endpoint on "/" and "/ws".
func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	upgrade := func(w http.ResponseWriter, r *http.Request) {
		that.upgradeToWebSocket(ctx, w, r)
	}

	mux.HandleFunc("/", upgrade)
	mux.HandleFunc("/ws", upgrade)

	return mux
}

// Start - starts WebSocket server. It returns nil once ctx is canceled and the server has shut down.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shut down websocket server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// upgradeToWebSocket - upgrades the connection and keeps it in a match until it closes.
func (that *Server) upgradeToWebSocket(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "upgradeConnection")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	participant := newConnection(conn, writeTimeout)
	log = log.With("participantID", participant.ID())

	// hijacked connections are not closed by http.Server.Shutdown
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	defer func() {
		if err = that.registry.Disconnect(ctx, participant); err != nil && !errors.Is(err, apperror.ErrMatchNotFound) {
			log.Error("failed to leave match", "error", err)
		}

		_ = conn.Close()
		log.Info("Client disconnected")
	}()

	log.Info("New client connected")

	matchID, err := that.registry.Connect(ctx, participant)
	if err != nil {
		log.Error("failed to join match", "error", err)
		return
	}

	log.Info("client joined match", "matchID", matchID)

	that.handleMessages(ctx, participant)
}

// handleMessages - processes messages from the client until the connection fails.
func (that *Server) handleMessages(ctx context.Context, participant *connection) {
	log := that.logger.With("method", "handleMessages", "participantID", participant.ID())

	for {
		_, data, err := participant.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("connection closed unexpectedly", "error", err)
			}
			return
		}

		message, err := parseMessage(data)
		if err != nil {
			log.Debug("ignoring unreadable message", "error", err)
			continue
		}

		handler, ok := that.handlers[message.Type]
		if !ok {
			log.Debug("ignoring message", "type", message.Type, "error", apperror.ErrUnknownType)
			continue
		}

		err = handler(ctx, participant, message)

		switch {
		case err == nil:
		case apperror.IsRejectedMove(err), errors.Is(err, apperror.ErrMatchNotFound), errors.Is(err, errMalformedMove):
			// the sender is not told, the next broadcast is the only feedback it gets
			log.Debug("message ignored", "type", message.Type, "error", err)
		default:
			log.Error("error processing message", "type", message.Type, "error", err)
		}
	}
}

func (that *Server) handleMove(ctx context.Context, participant *connection, message *Message) error {
	move, err := message.Move()
	if err != nil {
		return err
	}

	if err = that.registry.Move(ctx, participant, move); err != nil {
		return fmt.Errorf("move %s to %s: %w", move.From.Square(), move.To.Square(), err)
	}

	return nil
}
