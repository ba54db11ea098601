/**
 * @description
 * This file contains the RabbitMQ event handlers of the induction-sync worker.
 * Each handler decodes one delivery and returns the acknowledgment decision.
 *
 * @dependencies
 * - github.com/sourcegraph/conc/pool: Bounded worker pool for employees within a batch.
 * - github.com/hcpvision/induction-sync/pkg/rabbitmq: Decision values.
 * - go.uber.org/zap: Structured logging.
 *
 * @notes
 * - A batch envelope is one unit of acknowledgment: it is acked exactly once, after every
 *   employee in it has been attempted, regardless of individual outcomes.
 * - Malformed envelopes are rejected without requeue. With a dead-letter exchange
 *   configured they are kept for inspection; otherwise the broker drops them.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/domain"
	"github.com/hcpvision/induction-sync/internal/observability"
	"github.com/hcpvision/induction-sync/pkg/rabbitmq"
)

// ErrMalformedEnvelope wraps every batch decode failure.
var ErrMalformedEnvelope = errors.New("malformed batch envelope")

// DecodeBatchEnvelope parses body and checks that data and data.data are present.
// An empty employee list is valid. Individual employee records never fail the envelope;
// see domain.Employee.DecodeError.
func DecodeBatchEnvelope(body []byte) (*domain.BatchEnvelope, error) {
	var envelope domain.BatchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: missing data.data", ErrMalformedEnvelope)
	}
	return &envelope, nil
}

// Processor runs the sync sequence for one employee.
type Processor interface {
	Process(ctx context.Context, employee domain.Employee) Outcome
}

// Publisher publishes a JSON message to a queue.
type Publisher interface {
	PublishJSON(ctx context.Context, queueName string, body interface{}) error
}

// BatchReport counts the outcomes of one envelope.
type BatchReport struct {
	Total              int
	Completed          int
	PartiallyCompleted int
	Failed             int
}

func (r *BatchReport) add(outcome Outcome) {
	r.Total++
	switch outcome {
	case Completed:
		r.Completed++
	case PartiallyCompleted:
		r.PartiallyCompleted++
	default:
		r.Failed++
	}
}

// SyncEventHandler handles sync deliveries in all worker modes.
type SyncEventHandler struct {
	processor         Processor
	publisher         Publisher
	createPersonQueue string
	concurrency       int
	log               *zap.Logger
}

// NewSyncEventHandler creates a new SyncEventHandler. processor may be nil in fan-out
// mode and publisher may be nil otherwise.
func NewSyncEventHandler(processor Processor, publisher Publisher, createPersonQueue string, concurrency int, logger *zap.Logger) *SyncEventHandler {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncEventHandler{
		processor:         processor,
		publisher:         publisher,
		createPersonQueue: createPersonQueue,
		concurrency:       concurrency,
		log:               logger,
	}
}

// HandleBatch processes a batch envelope. Decode errors are rejected; everything else
// is acked once the whole batch has been attempted.
func (h *SyncEventHandler) HandleBatch(ctx context.Context, body []byte) rabbitmq.Decision {
	envelope, err := DecodeBatchEnvelope(body)
	if err != nil {
		h.log.Error("rejecting batch envelope", zap.Error(err), zap.Int("body_bytes", len(body)))
		return rabbitmq.Reject
	}
	if envelope.Event != domain.EventHikvisionSync {
		h.log.Warn("unexpected event name, processing anyway", zap.String("event", envelope.Event))
	}

	report := h.ProcessBatch(ctx, envelope)
	h.log.Info("batch processed",
		zap.Int("page", envelope.Data.Pagination.CurrentPage),
		zap.Int("last_page", envelope.Data.Pagination.LastPage),
		zap.Int("total", report.Total),
		zap.Int("completed", report.Completed),
		zap.Int("partially_completed", report.PartiallyCompleted),
		zap.Int("failed", report.Failed),
	)
	return rabbitmq.Ack
}

// ProcessBatch attempts every employee in envelope on a pool of h.concurrency goroutines.
// With concurrency 1 employees run strictly in order. A record that could not be decoded
// or a panic while processing one employee is contained and counted as Failed.
func (h *SyncEventHandler) ProcessBatch(ctx context.Context, envelope *domain.BatchEnvelope) BatchReport {
	employees := envelope.Data.Data
	ctx = withBatch(ctx, batchInfo{ID: uuid.NewString(), Page: envelope.Data.Pagination.CurrentPage})

	outcomes := make([]Outcome, len(employees))
	p := pool.New().WithMaxGoroutines(h.concurrency)
	for i := range employees {
		i := i
		p.Go(func() {
			if err := employees[i].DecodeError(); err != nil {
				h.log.Error("skipping undecodable employee record",
					zap.Int("index", i),
					zap.Int("page", envelope.Data.Pagination.CurrentPage),
					zap.Error(err),
				)
				observability.EmployeeOutcomes.WithLabelValues(Failed.String()).Inc()
				outcomes[i] = Failed
				return
			}
			outcomes[i] = h.processSafely(ctx, employees[i])
		})
	}
	p.Wait()

	var report BatchReport
	for _, outcome := range outcomes {
		report.add(outcome)
	}
	return report
}

func (h *SyncEventHandler) processSafely(ctx context.Context, employee domain.Employee) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while processing employee",
				zap.String("identity_number", employee.IdentityNumber),
				zap.Any("panic", r),
			)
			outcome = Failed
		}
	}()
	return h.processor.Process(ctx, employee)
}

// HandleFanout republishes every employee of a batch as its own message. The batch is
// requeued if any publish fails, so downstream consumers may see an employee twice.
func (h *SyncEventHandler) HandleFanout(ctx context.Context, body []byte) rabbitmq.Decision {
	envelope, err := DecodeBatchEnvelope(body)
	if err != nil {
		h.log.Error("rejecting batch envelope", zap.Error(err), zap.Int("body_bytes", len(body)))
		return rabbitmq.Reject
	}

	failed := 0
	for i := range envelope.Data.Data {
		employee := envelope.Data.Data[i]
		if err := h.publisher.PublishJSON(ctx, h.createPersonQueue, domain.EmployeeMessage{Employee: &employee}); err != nil {
			failed++
			h.log.Error("failed to publish employee",
				zap.String("identity_number", employee.IdentityNumber),
				zap.String("queue", h.createPersonQueue),
				zap.Error(err),
			)
		}
	}

	total := len(envelope.Data.Data)
	if failed > 0 {
		h.log.Warn("fan-out incomplete, requeueing batch", zap.Int("total", total), zap.Int("failed", failed))
		return rabbitmq.Requeue
	}
	h.log.Info("batch fanned out",
		zap.Int("page", envelope.Data.Pagination.CurrentPage),
		zap.Int("employees", total),
		zap.String("queue", h.createPersonQueue),
	)
	return rabbitmq.Ack
}

// HandleEmployee processes a single-employee message. Messages without an employee or
// identity number are rejected.
func (h *SyncEventHandler) HandleEmployee(ctx context.Context, body []byte) rabbitmq.Decision {
	var msg domain.EmployeeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.log.Error("rejecting employee message", zap.Error(err))
		return rabbitmq.Reject
	}
	if msg.Employee != nil && msg.Employee.DecodeError() != nil {
		h.log.Error("rejecting employee message", zap.Error(msg.Employee.DecodeError()))
		return rabbitmq.Reject
	}
	if msg.Employee == nil || strings.TrimSpace(msg.Employee.IdentityNumber) == "" {
		h.log.Error("rejecting employee message without employee identity")
		return rabbitmq.Reject
	}

	h.processSafely(ctx, *msg.Employee)
	return rabbitmq.Ack
}
