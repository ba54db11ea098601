/**
 * @description
 * The employee processor runs the HikCentral sync sequence for one induction record:
 * create the person, store the KIB number, then link privilege groups.
 *
 * @dependencies
 * - go.uber.org/zap: Structured logging of each step and the final outcome.
 * - github.com/hcpvision/induction-sync/internal/store: Optional outcome ledger.
 *
 * @notes
 * - Only a failed create-person makes the outcome Failed. Later steps downgrade the
 *   outcome to PartiallyCompleted and never stop the sequence.
 * - Process never panics on bad input and never returns an error; callers decide
 *   acknowledgment from the batch, not from individual outcomes.
 */
package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/domain"
	"github.com/hcpvision/induction-sync/internal/observability"
	"github.com/hcpvision/induction-sync/internal/store"
)

// KIBFieldName is the HikCentral custom field that stores the KIB number.
const KIBFieldName = "KIB"

const ledgerWriteTimeout = 5 * time.Second

// Step names recorded in the ledger's failed_steps.
const (
	stepValidate     = "validate"
	stepCreatePerson = "create_person"
	stepPersonID     = "person_id"
	stepUpdateKIB    = "update_custom_field"
	stepAssignGroup  = "assign_privilege_group:"
)

// Outcome is the result of processing one employee.
type Outcome int

const (
	Completed Outcome = iota
	PartiallyCompleted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case PartiallyCompleted:
		return "partially_completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncClient is the subset of the HikCentral client the processor drives.
type SyncClient interface {
	CreatePerson(ctx context.Context, employee domain.Employee, groupIDs []string) (*domain.SyncResult, error)
	AssignPrivilegeGroup(ctx context.Context, personID, groupID string) bool
	UpdateCustomField(ctx context.Context, personID, fieldName, fieldValue string) bool
}

// OutcomeRecorder persists outcomes. A nil recorder disables the ledger.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome store.SyncOutcome) error
}

// EmployeeProcessor handles one employee at a time and is safe for concurrent use.
type EmployeeProcessor struct {
	client   SyncClient
	mapping  RegionalMapping
	recorder OutcomeRecorder
	log      *zap.Logger
}

// NewEmployeeProcessor creates a new EmployeeProcessor.
func NewEmployeeProcessor(client SyncClient, mapping RegionalMapping, recorder OutcomeRecorder, logger *zap.Logger) *EmployeeProcessor {
	if mapping == nil {
		mapping = DefaultRegionalMapping()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmployeeProcessor{client: client, mapping: mapping, recorder: recorder, log: logger}
}

// Process runs the sync sequence for employee and reports its outcome.
func (p *EmployeeProcessor) Process(ctx context.Context, employee domain.Employee) Outcome {
	batch := batchFromContext(ctx)
	log := p.log.With(
		zap.String("identity_number", employee.IdentityNumber),
		zap.String("name", employee.Name),
	)
	if batch.ID != "" {
		log = log.With(zap.String("batch_id", batch.ID), zap.Int("page", batch.Page))
	}

	if strings.TrimSpace(employee.IdentityNumber) == "" {
		log.Error("employee record has no identity number, skipping")
		return p.finish(ctx, log, employee, nil, Failed, []string{stepValidate})
	}

	groupIDs := p.mapping.GroupIDs(employee.Regionals)

	result, err := p.client.CreatePerson(ctx, employee, groupIDs)
	if err != nil {
		return p.finish(ctx, log, employee, nil, Failed, []string{stepCreatePerson})
	}

	outcome := Completed
	var failedSteps []string
	kib := strings.TrimSpace(employee.KIBNumber)

	if result == nil || result.PersonID == nil {
		if kib != "" || len(groupIDs) > 0 {
			log.Warn("create-person returned no person id, skipping follow-up steps",
				zap.Bool("has_kib", kib != ""),
				zap.Strings("privilege_group_ids", groupIDs),
			)
			outcome = PartiallyCompleted
			failedSteps = append(failedSteps, stepPersonID)
		}
		return p.finish(ctx, log, employee, nil, outcome, failedSteps)
	}

	personID := *result.PersonID
	log = log.With(zap.String("person_id", personID))

	if kib != "" {
		if !p.client.UpdateCustomField(ctx, personID, KIBFieldName, kib) {
			outcome = PartiallyCompleted
			failedSteps = append(failedSteps, stepUpdateKIB)
		}
	}

	for _, groupID := range groupIDs {
		if !p.client.AssignPrivilegeGroup(ctx, personID, groupID) {
			outcome = PartiallyCompleted
			failedSteps = append(failedSteps, stepAssignGroup+groupID)
		}
	}
	if len(groupIDs) > 0 {
		log.Info("privilege group assignment finished",
			zap.Int("requested", len(groupIDs)),
			zap.Int("failed", countPrefix(failedSteps, stepAssignGroup)),
		)
	}

	return p.finish(ctx, log, employee, &personID, outcome, failedSteps)
}

func (p *EmployeeProcessor) finish(ctx context.Context, log *zap.Logger, employee domain.Employee, personID *string, outcome Outcome, failedSteps []string) Outcome {
	observability.EmployeeOutcomes.WithLabelValues(outcome.String()).Inc()

	fields := []zap.Field{zap.String("status", outcome.String())}
	if len(failedSteps) > 0 {
		fields = append(fields, zap.Strings("failed_steps", failedSteps))
	}
	switch outcome {
	case Completed:
		log.Info("employee synced", fields...)
	case PartiallyCompleted:
		log.Warn("employee partially synced", fields...)
	default:
		log.Error("employee sync failed", fields...)
	}

	if p.recorder == nil {
		return outcome
	}

	batch := batchFromContext(ctx)
	// The ledger write must not be lost to a shutdown cancelling ctx mid-batch.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	if err := p.recorder.RecordOutcome(writeCtx, store.SyncOutcome{
		IdentityNumber: employee.IdentityNumber,
		PersonID:       personID,
		Outcome:        outcome.String(),
		FailedSteps:    failedSteps,
		BatchID:        batch.ID,
		Page:           batch.Page,
		ProcessedAt:    time.Now().UTC(),
	}); err != nil {
		log.Warn("failed to record sync outcome", zap.Error(err))
	}
	return outcome
}

func countPrefix(values []string, prefix string) int {
	n := 0
	for _, v := range values {
		if strings.HasPrefix(v, prefix) {
			n++
		}
	}
	return n
}

type batchKey struct{}

// batchInfo identifies the envelope an employee came from, for logs and the ledger.
type batchInfo struct {
	ID   string
	Page int
}

func withBatch(ctx context.Context, info batchInfo) context.Context {
	return context.WithValue(ctx, batchKey{}, info)
}

func batchFromContext(ctx context.Context) batchInfo {
	info, _ := ctx.Value(batchKey{}).(batchInfo)
	return info
}
