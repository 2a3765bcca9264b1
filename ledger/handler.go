package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orepool/operator/shared"
)

const maxRequestBytes = 1 << 20

// NewHTTPHandler serves ledger over the gateway JSON API.
func NewHTTPHandler(ledger *InMemory, logger *zap.Logger) http.Handler {
	h := &handler{ledger: ledger, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/reference", h.reference)
	mux.HandleFunc("/v1/transactions", h.send)
	mux.HandleFunc("/v1/transactions/", h.status)
	mux.HandleFunc("/v1/pool", h.pool)
	mux.HandleFunc("/v1/members/", h.member)
	mux.HandleFunc("/v1/boosts/", h.boost)
	return withRequestID(mux)
}

type handler struct {
	ledger *InMemory
	logger *zap.Logger
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (h *handler) reference(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	ref, err := h.ledger.LatestReference(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, referenceResponse{Reference: ref})
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var tx SignedTransaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&tx); err != nil {
		h.fail(w, r, errors.Join(ErrMalformed, err))
		return
	}
	id, err := h.ledger.Send(r.Context(), &tx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Debug("transaction applied",
		zap.String("id", string(id)),
		zap.Object("tx", &tx.Transaction),
		zap.String("request", w.Header().Get("X-Request-ID")),
	)
	h.reply(w, r, sendResponse{ID: id})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := TxID(strings.TrimPrefix(r.URL.Path, "/v1/transactions/"))
	if err := h.ledger.Confirm(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, statusResponse{Status: statusConfirmed})
}

func (h *handler) pool(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	authority, err := shared.ParsePublicKey(r.URL.Query().Get("authority"))
	if err != nil {
		h.fail(w, r, errors.Join(ErrMalformed, err))
		return
	}
	pool, err := h.ledger.Pool(r.Context(), authority)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, pool)
}

func (h *handler) member(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	key, err := shared.ParsePublicKey(strings.TrimPrefix(r.URL.Path, "/v1/members/"))
	if err != nil {
		h.fail(w, r, errors.Join(ErrMalformed, err))
		return
	}
	member, err := h.ledger.Member(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, member)
}

func (h *handler) boost(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	key, err := shared.ParsePublicKey(strings.TrimPrefix(r.URL.Path, "/v1/boosts/"))
	if err != nil {
		h.fail(w, r, errors.Join(ErrMalformed, err))
		return
	}
	boost, err := h.ledger.Boost(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.reply(w, r, boost)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrStaleReference):
		return http.StatusConflict
	case errors.Is(err, ErrTxNotFound), errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case IsPermanent(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	h.logger.Debug("request rejected",
		zap.String("path", r.URL.Path),
		zap.Int("status", code),
		zap.String("request", w.Header().Get("X-Request-ID")),
		zap.Error(err),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: errorCode(err), Message: err.Error()})
}

func (h *handler) reply(w http.ResponseWriter, r *http.Request, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}
