package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/pipeline"
)

// maxQueryBody bounds the POST /api/query body.
const maxQueryBody = 64 << 10

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Role           string `json:"role,omitempty"`
}

// QueryRunner answers one question turn.
type QueryRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// QueryHandler serves the question-answering endpoint.
type QueryHandler struct {
	runner QueryRunner
	logger *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(runner QueryRunner, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{runner: runner, logger: logger.Named("query")}
}

// RegisterRoutes registers POST /api/query. Other methods get 405 from the mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
}

// Query handles POST /api/query.
//
// Every answered turn returns 200 with a pipeline response, including
// clarifications, out-of-scope replies and failed turns. Invalid input returns
// 400. A turn that failed because the models could not be loaded returns 503
// with the same response body.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := DecodeJSON(w, r, maxQueryBody, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := h.runner.Run(r.Context(), pipeline.Request{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		Role:           req.Role,
	})
	if err != nil {
		if code := apperrors.InputErrorCode(err); code != "" {
			h.writeError(w, http.StatusBadRequest, code, err.Error())
			return
		}
		if errors.Is(err, context.Canceled) {
			// Client went away; nothing to write to.
			return
		}
		h.logger.Error("Query failed", zap.String("error", logging.SanitizeError(err)))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	status := http.StatusOK
	if resp.ErrorKind == pipeline.KindModelLoad {
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "30")
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

func (h *QueryHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
