package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/herochess-backend/internal/apperror"
	"github.com/rocketscienceinc/herochess-backend/internal/entity"
	"github.com/rocketscienceinc/herochess-backend/internal/usecase"
)

type Handlers interface {
	PingHandler(w http.ResponseWriter, _ *http.Request)

	MatchesHandler(w http.ResponseWriter, _ *http.Request)
	MatchHandler(w http.ResponseWriter, r *http.Request)
}

type matchReader interface {
	Snapshot(ctx context.Context, id string) (*entity.MatchSnapshot, error)
	Stats() usecase.Stats
}

type handlers struct {
	logger  *slog.Logger
	matches matchReader
}

func NewHandlers(logger *slog.Logger, matches matchReader) Handlers {
	return &handlers{
		logger:  logger.With("component", "rest"),
		matches: matches,
	}
}

// MatchesHandler reports how many matches and participants are live.
func (that *handlers) MatchesHandler(w http.ResponseWriter, _ *http.Request) {
	that.writeJSON(w, http.StatusOK, that.matches.Stats())
}

// MatchHandler returns the current snapshot of one match.
func (that *handlers) MatchHandler(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "MatchHandler")

	id := r.PathValue("id")

	snapshot, err := that.matches.Snapshot(r.Context(), id)
	if errors.Is(err, apperror.ErrMatchNotFound) {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	if err != nil {
		log.Error("failed to get match", "matchID", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	that.writeJSON(w, http.StatusOK, snapshot)
}

func (that *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}
