package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/errs"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/service"
	"github.com/go-chi/jwtauth"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 16

type Options struct {
	Port         string
	InstanceID   string
	SSEKeepAlive time.Duration
	// AllowedOrigins limits websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

type Handler struct {
	svc       *service.RoomService
	tokenAuth *jwtauth.JWTAuth
	upgrader  websocket.Upgrader
	validate  *validator.Validate
	opts      Options
}

func NewHandler(svc *service.RoomService, opts Options) *Handler {
	if opts.SSEKeepAlive <= 0 {
		opts.SSEKeepAlive = 15 * time.Second
	}
	h := &Handler{
		svc:      svc,
		validate: validator.New(),
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// writeJSON sends a resource body without the envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) Error(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		// storage details stay in the log
		var e *errs.Error
		if errors.As(err, &e) {
			msg = e.Message
		} else {
			msg = http.StatusText(status)
		}
	}
	h.CreateResponse(w, Response{
		Message: msg,
		Code:    status,
		Error:   errs.CodeOf(err),
	})
}

// StatusFor maps a room error to its HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindConflict:
		if errs.CodeOf(err) == errs.ErrNotFound.Code {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case errs.KindConcurrency:
		return http.StatusConflict
	case errs.KindPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "room service is running at port " + h.opts.Port,
		Code:    http.StatusOK,
		Data:    nil,
	})
}

// OpsHealthHandler also checks the store.
func (h *Handler) OpsHealthHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{"instance_id": h.opts.InstanceID, "store": "ok"}
	if err := h.svc.Ping(r.Context()); err != nil {
		log.WithError(err).Warn("store ping failed")
		data["store"] = "unavailable"
		h.CreateResponse(w, Response{
			Message: "store unavailable",
			Code:    http.StatusServiceUnavailable,
			Data:    data,
			Error:   errs.ErrPersistence.Code,
		})
		return
	}
	h.CreateResponse(w, Response{
		Message: "room service is running at port " + h.opts.Port,
		Code:    http.StatusOK,
		Data:    data,
	})
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "ok",
		Code:    http.StatusOK,
		Data:    h.svc.Stats(),
	})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
