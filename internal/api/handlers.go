/**
 * @description
 * HTTP handlers for the ingest API: queue Eposh inductions, set KIB numbers by hand,
 * and look up the last recorded sync outcome of an employee.
 */
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/app"
	"github.com/hcpvision/induction-sync/internal/store"
)

// Ingester queues induction dates.
type Ingester interface {
	IngestDates(ctx context.Context, dates []string) (app.IngestReport, error)
}

// KIBUpdater writes the KIB custom field of a HikCentral person.
type KIBUpdater interface {
	UpdateCustomField(ctx context.Context, personID, fieldName, fieldValue string) bool
}

// OutcomeReader reads the sync outcome ledger.
type OutcomeReader interface {
	LatestOutcome(ctx context.Context, identityNumber string) (*store.SyncOutcome, error)
}

// Handler holds the services that handlers will interact with. kib and outcomes may be
// nil when HikCentral or the database is not configured.
type Handler struct {
	ingester Ingester
	kib      KIBUpdater
	outcomes OutcomeReader
	log      *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(ingester Ingester, kib KIBUpdater, outcomes OutcomeReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ingester: ingester, kib: kib, outcomes: outcomes, log: logger}
}

// InductionRequest selects the induction dates to queue. To defaults to From.
type InductionRequest struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	SkipDates []string `json:"skip_dates"`
}

// KIBRequest sets the KIB number of an existing HikCentral person.
type KIBRequest struct {
	PersonID  string `json:"person_id"`
	KIBNumber string `json:"kib_number"`
}

type outcomeResponse struct {
	IdentityNumber string   `json:"identity_number"`
	PersonID       *string  `json:"person_id"`
	Outcome        string   `json:"outcome"`
	FailedSteps    []string `json:"failed_steps"`
	BatchID        string   `json:"batch_id,omitempty"`
	Page           int      `json:"page,omitempty"`
	ProcessedAt    string   `json:"processed_at"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleEposhInduction(w http.ResponseWriter, r *http.Request) {
	var req InductionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.To) == "" {
		req.To = req.From
	}

	dates, err := app.DatesInRange(req.From, req.To, req.SkipDates)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Info("eposh ingestion requested",
		zap.String("requested_by", SubjectFromContext(r.Context())),
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.Int("dates", len(dates)),
	)

	report, err := h.ingester.IngestDates(r.Context(), dates)
	if err != nil {
		h.log.Error("eposh ingestion failed", zap.String("from", req.From), zap.String("to", req.To), zap.Error(err))
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"queued": report,
		})
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "queued",
		"message":   fmt.Sprintf("All dates processed: %d employees across %d pages sent to RabbitMQ", report.Employees, report.Pages),
		"dates":     report.Dates,
		"pages":     report.Pages,
		"employees": report.Employees,
	})
}

func (h *Handler) handleKIB(w http.ResponseWriter, r *http.Request) {
	if h.kib == nil {
		respondWithError(w, http.StatusServiceUnavailable, "HikCentral is not configured")
		return
	}

	var req KIBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PersonID, req.KIBNumber = strings.TrimSpace(req.PersonID), strings.TrimSpace(req.KIBNumber)
	if req.PersonID == "" || req.KIBNumber == "" {
		respondWithError(w, http.StatusBadRequest, "person_id and kib_number are required")
		return
	}

	if !h.kib.UpdateCustomField(r.Context(), req.PersonID, app.KIBFieldName, req.KIBNumber) {
		respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   "HikCentral rejected the KIB update",
		})
		return
	}

	h.log.Info("kib number updated",
		zap.String("requested_by", SubjectFromContext(r.Context())),
		zap.String("person_id", req.PersonID),
	)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "person_id": req.PersonID})
}

func (h *Handler) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		respondWithError(w, http.StatusServiceUnavailable, "outcome ledger is not configured")
		return
	}

	identityNumber := chi.URLParam(r, "identityNumber")
	outcome, err := h.outcomes.LatestOutcome(r.Context(), identityNumber)
	if err != nil {
		h.log.Error("failed to load sync outcome", zap.String("identity_number", identityNumber), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to load sync outcome")
		return
	}
	if outcome == nil {
		respondWithError(w, http.StatusNotFound, "no sync outcome recorded")
		return
	}

	respondWithJSON(w, http.StatusOK, outcomeResponse{
		IdentityNumber: outcome.IdentityNumber,
		PersonID:       outcome.PersonID,
		Outcome:        outcome.Outcome,
		FailedSteps:    outcome.FailedSteps,
		BatchID:        outcome.BatchID,
		Page:           outcome.Page,
		ProcessedAt:    outcome.ProcessedAt.UTC().Format(time.RFC3339),
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
