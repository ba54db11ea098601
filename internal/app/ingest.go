package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/domain"
)

// DateLayout is the induction date format used by Eposh and the ingest API.
const DateLayout = "2006-01-02"

const maxIngestDays = 366

// ErrInvalidDateRange is returned for unparsable or inverted ingest ranges.
var ErrInvalidDateRange = errors.New("invalid date range")

// SourceClient fetches pages of inducted employees.
type SourceClient interface {
	FetchPage(ctx context.Context, date string, page int) (*domain.EmployeePage, error)
}

// IngestReport summarises what was queued.
type IngestReport struct {
	Dates     int `json:"dates"`
	Pages     int `json:"pages"`
	Employees int `json:"employees"`
}

func (r *IngestReport) merge(other IngestReport) {
	r.Dates += other.Dates
	r.Pages += other.Pages
	r.Employees += other.Employees
}

// IngestService pages through the source and publishes one batch envelope per page.
type IngestService struct {
	source    SourceClient
	publisher Publisher
	queueName string
	log       *zap.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(source SourceClient, publisher Publisher, queueName string, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{source: source, publisher: publisher, queueName: queueName, log: logger}
}

// DatesInRange expands [from, to] into YYYY-MM-DD dates, leaving out skip.
func DatesInRange(from, to string, skip []string) ([]string, error) {
	start, err := time.Parse(DateLayout, strings.TrimSpace(from))
	if err != nil {
		return nil, fmt.Errorf("%w: from %q: %v", ErrInvalidDateRange, from, err)
	}
	end, err := time.Parse(DateLayout, strings.TrimSpace(to))
	if err != nil {
		return nil, fmt.Errorf("%w: to %q: %v", ErrInvalidDateRange, to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidDateRange, to, from)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxIngestDays {
		return nil, fmt.Errorf("%w: %d days exceeds the limit of %d", ErrInvalidDateRange, days, maxIngestDays)
	}

	skipped := make(map[string]bool, len(skip))
	for _, d := range skip {
		skipped[strings.TrimSpace(d)] = true
	}

	var dates []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(DateLayout)
		if skipped[date] {
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}

// IngestDates ingests each date in order and stops at the first error. The returned
// report covers everything queued before the error.
func (s *IngestService) IngestDates(ctx context.Context, dates []string) (IngestReport, error) {
	var total IngestReport
	for _, date := range dates {
		report, err := s.IngestDate(ctx, date)
		total.merge(report)
		if err != nil {
			return total, err
		}
	}
	s.log.Info("ingestion finished",
		zap.Int("dates", total.Dates),
		zap.Int("pages", total.Pages),
		zap.Int("employees", total.Employees),
	)
	return total, nil
}

// IngestDate queues every page for one induction date. Dates with no employees publish
// nothing.
func (s *IngestService) IngestDate(ctx context.Context, date string) (IngestReport, error) {
	log := s.log.With(zap.String("induction_date", date))
	report := IngestReport{Dates: 1}

	first, err := s.source.FetchPage(ctx, date, 1)
	if err != nil {
		return report, fmt.Errorf("failed to fetch %s page 1: %w", date, err)
	}
	if first.Pagination.Total == 0 {
		log.Info("no employees inducted")
		return report, nil
	}

	lastPage := first.Pagination.LastPage
	if lastPage < 1 {
		lastPage = 1
	}
	log.Info("queueing inducted employees", zap.Int("total", first.Pagination.Total), zap.Int("pages", lastPage))

	if err := s.publishPage(ctx, first); err != nil {
		return report, fmt.Errorf("failed to queue %s page 1: %w", date, err)
	}
	report.Pages++
	report.Employees += len(first.Data)

	for page := 2; page <= lastPage; page++ {
		next, err := s.source.FetchPage(ctx, date, page)
		if err != nil {
			return report, fmt.Errorf("failed to fetch %s page %d: %w", date, page, err)
		}
		if err := s.publishPage(ctx, next); err != nil {
			return report, fmt.Errorf("failed to queue %s page %d: %w", date, page, err)
		}
		report.Pages++
		report.Employees += len(next.Data)
		log.Debug("page queued", zap.Int("page", page), zap.Int("last_page", lastPage))
	}
	return report, nil
}

func (s *IngestService) publishPage(ctx context.Context, page *domain.EmployeePage) error {
	if page.Data == nil {
		page.Data = []domain.Employee{}
	}
	return s.publisher.PublishJSON(ctx, s.queueName, domain.BatchEnvelope{
		Event: domain.EventHikvisionSync,
		Data:  page,
	})
}
