package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/kmendoza-dev/approvalcore/internal/approval"
	"github.com/kmendoza-dev/approvalcore/internal/domain"
	"github.com/kmendoza-dev/approvalcore/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "approval_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Decider is the engine surface the transport needs.
type Decider interface {
	Decide(ctx context.Context, d approval.Decision) (*domain.Outcome, error)
}

type Handler struct {
	store  *store.Store
	engine Decider
}

func NewHandler(s *store.Store, engine Decider) *Handler {
	return &Handler{store: s, engine: engine}
}

// decisionRequest is the JSON body for both decision endpoints.
type decisionRequest struct {
	Action          string           `json:"action"`
	ActorKind       string           `json:"actor_kind"`
	ActorID         string           `json:"actor_id"`
	BotID           string           `json:"bot_id,omitempty"`
	FinalAmount     *decimal.Decimal `json:"final_amount,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) DecideOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.FlowOrder, "/orders/{id}/decision")
}

func (h *Handler) DecideWalletLoadHandler(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.FlowWalletLoad, "/wallet-loads/{id}/decision")
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, flow approval.Flow, endpoint string) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	requestID := mux.Vars(r)["id"]

	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respond(w, "POST", endpoint, http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}

	action := approval.Action(body.Action)
	if action != approval.ActionApprove && action != approval.ActionReject {
		h.respond(w, "POST", endpoint, http.StatusUnprocessableEntity, map[string]string{"error": "Action must be approve or reject"})
		return
	}
	if body.FinalAmount != nil && !body.FinalAmount.IsPositive() {
		h.respond(w, "POST", endpoint, http.StatusUnprocessableEntity, map[string]string{"error": "Positive final_amount required"})
		return
	}

	outcome, err := h.engine.Decide(r.Context(), approval.Decision{
		RequestID: requestID,
		Action:    action,
		Actor: approval.Actor{
			Kind:  approval.ActorKind(body.ActorKind),
			ID:    body.ActorID,
			BotID: body.BotID,
		},
		Flow:            flow,
		FinalAmount:     body.FinalAmount,
		RejectionReason: body.RejectionReason,
	})
	if err != nil {
		if errors.Is(err, approval.ErrRetryable) {
			h.respond(w, "POST", endpoint, http.StatusServiceUnavailable, map[string]string{"error": "Transient conflict, retry the decision"})
			return
		}
		h.respond(w, "POST", endpoint, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	h.respond(w, "POST", endpoint, statusFor(outcome), outcome)
}

func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, approval.ErrRequestNotFound) {
			h.respond(w, "GET", "/requests/{id}", http.StatusNotFound, map[string]string{"error": "Request not found"})
			return
		}
		h.respond(w, "GET", "/requests/{id}", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	h.respond(w, "GET", "/requests/{id}", http.StatusOK, req)
}

func (h *Handler) GetUserLedgerHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := h.store.ListLedger(r.Context(), id)
	if err != nil {
		if errors.Is(err, approval.ErrUserNotFound) {
			h.respond(w, "GET", "/users/{id}/ledger", http.StatusNotFound, map[string]string{"error": "User not found"})
			return
		}
		h.respond(w, "GET", "/users/{id}/ledger", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	h.respond(w, "GET", "/users/{id}/ledger", http.StatusOK, entries)
}

// statusFor maps outcome codes onto transport status. Business failures
// that still committed a terminal state travel as 422 with the outcome
// body, so the caller can distinguish them from transport errors.
func statusFor(out *domain.Outcome) int {
	switch out.Code {
	case domain.CodeOK, domain.CodeRejected:
		return http.StatusOK
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyProcessed:
		return http.StatusConflict
	case domain.CodeInsufficientBalance, domain.CodeGameNotFound:
		return http.StatusUnprocessableEntity
	case domain.CodeExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload any) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
