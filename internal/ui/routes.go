package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"retroboard/internal/checkpoint"
	"retroboard/internal/discovery"
	"retroboard/internal/middleware"
)

const browseWindow = 3 * time.Second

type RouterOptions struct {
	// Checkpoint backs /api/boards.
	Checkpoint *checkpoint.Checkpoint
	// Browse backs /api/lan when set.
	Browse func(ctx context.Context) ([]discovery.Board, error)
	// UIDir is served at / when set.
	UIDir string
}

// Router mounts the websocket, the JSON API and the static UI.
func (h *Hub) Router(opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logger(h.logger))

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(h.ServeWs)
	r.Methods(http.MethodGet).Path("/api/view").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.board.View())
	})
	if opts.Checkpoint != nil {
		r.Methods(http.MethodGet).Path("/api/boards").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			boards, err := opts.Checkpoint.RecentBoards(r.Context())
			if err != nil {
				h.logger.Error("Failed to list recent boards", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list boards"})
				return
			}
			writeJSON(w, http.StatusOK, boards)
		})
	}
	if opts.Browse != nil {
		r.Methods(http.MethodGet).Path("/api/lan").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), browseWindow)
			defer cancel()
			boards, err := opts.Browse(ctx)
			if err != nil {
				h.logger.Warn("LAN browse failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, boards)
		})
	}
	if opts.UIDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.UIDir)))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
