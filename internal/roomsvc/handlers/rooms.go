package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/errs"
	"github.com/go-chi/chi"
)

type createRoomRequest struct {
	MaxPlayers *int `json:"max_players" validate:"required"`
}

type joinRoomRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
}

type submitRequest struct {
	PlayerID string `json:"player_id" validate:"required"`
	AssetA   *int   `json:"asset_a" validate:"required"`
	AssetB   *int   `json:"asset_b" validate:"required"`
}

// decode reads a JSON body into v and checks its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errs.Wrap(errs.ErrInvalidRequest, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return errs.Wrap(errs.ErrInvalidRequest, err)
	}
	return nil
}

func roomCode(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "code"))
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := h.decode(w, r, &req); err != nil {
		h.Error(w, err)
		return
	}

	room, err := h.svc.CreateRoom(r.Context(), *req.MaxPlayers)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetRoom(r.Context(), roomCode(r))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := h.decode(w, r, &req); err != nil {
		h.Error(w, err)
		return
	}

	player, err := h.svc.JoinRoom(r.Context(), roomCode(r), req.DisplayName)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, player)
}

func (h *Handler) SubmitAllocation(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := h.decode(w, r, &req); err != nil {
		h.Error(w, err)
		return
	}

	player, _, err := h.svc.SubmitAllocation(r.Context(), roomCode(r), req.PlayerID, *req.AssetA, *req.AssetB)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, player)
}

func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	err := h.svc.LeaveRoom(r.Context(), roomCode(r), chi.URLParam(r, "playerID"))
	if err != nil {
		h.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
