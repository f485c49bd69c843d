// Package httpapi exposes the calendar sync endpoint over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/venuehq/calsync/internal/errs"
	"github.com/venuehq/calsync/internal/limiter"
	"github.com/venuehq/calsync/internal/mask"
	"github.com/venuehq/calsync/internal/model"
	"github.com/venuehq/calsync/internal/service"
)

// Server wires the sync service into HTTP handlers.
type Server struct {
	sync    service.Syncer
	lim     limiter.Limiter
	log     *zap.Logger
	signKey []byte
	origins map[string]struct{}
}

// New constructs a Server with injected dependencies.
func New(sync service.Syncer, lim limiter.Limiter, signKey []byte, allowedOrigins []string, log *zap.Logger) *Server {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Server{sync: sync, lim: lim, log: log, signKey: signKey, origins: origins}
}

// Handler returns the routed handler wrapped in recovery and logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/calendar/sync", s.handleSync)
	return Recover(s.log, Logging(s.log, mux))
}

type syncRequestBody struct {
	Action    string `json:"action"`
	BookingID string `json:"booking_id"`
	VenueID   string `json:"venue_id"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, err := s.userIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body syncRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := parseSyncRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	scope := limiter.HashScope(req.VenueID.String())
	allowed, retryAfter, err := s.lim.Allow(r.Context(), userID.String(), scope)
	if err != nil {
		s.log.Error("limiter check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, blockFor, err := s.lim.Record(r.Context(), userID.String(), scope); err != nil {
		// Counting is best-effort; a broken limiter must not break syncs.
		s.log.Warn("limiter record failed", zap.Error(err))
	} else if blocked {
		writeRateLimited(w, blockFor)
		return
	}

	res, err := s.sync.Sync(r.Context(), userID, req)
	if err != nil {
		s.writeSyncError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseSyncRequest(body syncRequestBody) (model.SyncRequest, error) {
	action := model.SyncAction(body.Action)
	if !action.Valid() {
		return model.SyncRequest{}, fmt.Errorf("bad action %q", body.Action)
	}
	bookingID, err := uuid.FromString(body.BookingID)
	if err != nil {
		return model.SyncRequest{}, errors.New("bad booking_id")
	}
	venueID, err := uuid.FromString(body.VenueID)
	if err != nil {
		return model.SyncRequest{}, errors.New("bad venue_id")
	}
	return model.SyncRequest{Action: action, BookingID: bookingID, VenueID: venueID}, nil
}

// writeSyncError maps service failures to status codes. Upstream and
// internal failures surface as a generic 500: no raw error text, token
// material or upstream bodies cross the response boundary.
func (s *Server) writeSyncError(w http.ResponseWriter, req model.SyncRequest, err error) {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, "not a venue member")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	default:
		s.log.Error("sync failed",
			zap.String("action", string(req.Action)),
			zap.String("booking", mask.ID(req.BookingID.String())),
			zap.String("venue", mask.ID(req.VenueID.String())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

// userIDFromRequest extracts "Authorization: Bearer <JWT>", verifies HS256,
// and returns the subject as a UUID.
func (s *Server) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}

// applyCORS sets CORS headers only for origins on the allow-list; unknown
// origins get no Access-Control-Allow-Origin at all, never a wildcard.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if _, ok := s.origins[origin]; !ok {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+1)))
	}
	writeError(w, http.StatusTooManyRequests, "rate limited")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
