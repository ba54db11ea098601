package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hcpvision/induction-sync/internal/domain"
)

type fakeSource struct {
	pages   map[string][]domain.EmployeePage
	failOn  string
	fetched []string
}

func (s *fakeSource) FetchPage(_ context.Context, date string, page int) (*domain.EmployeePage, error) {
	key := fmt.Sprintf("%s#%d", date, page)
	s.fetched = append(s.fetched, key)
	if key == s.failOn {
		return nil, errors.New("eposh API request failed with status 502")
	}
	pages := s.pages[date]
	if len(pages) == 0 {
		return &domain.EmployeePage{Data: []domain.Employee{}, Pagination: domain.Pagination{CurrentPage: 1, LastPage: 1}}, nil
	}
	p := pages[page-1]
	return &p, nil
}

func employees(n int) []domain.Employee {
	out := make([]domain.Employee, n)
	for i := range out {
		out[i] = domain.Employee{IdentityNumber: fmt.Sprintf("%d", i)}
	}
	return out
}

func TestDatesInRange(t *testing.T) {
	dates, err := DatesInRange("2026-01-01", "2026-01-06", []string{"2026-01-02", "2026-01-05"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01", "2026-01-03", "2026-01-04", "2026-01-06"}, dates)

	dates, err = DatesInRange("2026-02-28", "2026-03-01", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-28", "2026-03-01"}, dates)

	for _, tc := range [][2]string{
		{"2026-01-05", "2026-01-01"},
		{"01/01/2026", "2026-01-02"},
		{"2026-01-01", ""},
		{"2024-01-01", "2026-01-01"},
	} {
		_, err := DatesInRange(tc[0], tc[1], nil)
		assert.ErrorIsf(t, err, ErrInvalidDateRange, "%s..%s", tc[0], tc[1])
	}
}

func TestIngestDates_PublishesEveryPage(t *testing.T) {
	source := &fakeSource{pages: map[string][]domain.EmployeePage{
		"2026-01-03": {
			{Data: employees(2), Pagination: domain.Pagination{CurrentPage: 1, LastPage: 2, Total: 3}},
			{Data: employees(1), Pagination: domain.Pagination{CurrentPage: 2, LastPage: 2, Total: 3}},
		},
	}}
	publisher := &stubPublisher{}
	service := NewIngestService(source, publisher, "hikvision_sync", zaptest.NewLogger(t))

	report, err := service.IngestDates(context.Background(), []string{"2026-01-01", "2026-01-03"})
	require.NoError(t, err)

	assert.Equal(t, IngestReport{Dates: 2, Pages: 2, Employees: 3}, report)
	assert.Equal(t, []string{"2026-01-01#1", "2026-01-03#1", "2026-01-03#2"}, source.fetched)
	require.Len(t, publisher.published, 2)
	assert.Equal(t, []string{"hikvision_sync", "hikvision_sync"}, publisher.queues)

	envelope, ok := publisher.published[1].(domain.BatchEnvelope)
	require.True(t, ok)
	assert.Equal(t, domain.EventHikvisionSync, envelope.Event)
	assert.Equal(t, 2, envelope.Data.Pagination.CurrentPage)
}

func TestIngestDates_ForwardsUndecodableRecords(t *testing.T) {
	var page domain.EmployeePage
	require.NoError(t, json.Unmarshal([]byte(`{"data":[{"identity_number":"A1"},42],"pagination":{"current_page":1,"last_page":1,"total":2}}`), &page))

	source := &fakeSource{pages: map[string][]domain.EmployeePage{"2026-01-03": {page}}}
	publisher := &stubPublisher{}
	service := NewIngestService(source, publisher, "hikvision_sync", zaptest.NewLogger(t))

	report, err := service.IngestDates(context.Background(), []string{"2026-01-03"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Employees)

	require.Len(t, publisher.published, 1)
	body, err := json.Marshal(publisher.published[0])
	require.NoError(t, err)

	// The worker sees the same two records and counts the bad one as failed.
	envelope, err := DecodeBatchEnvelope(body)
	require.NoError(t, err)
	require.Len(t, envelope.Data.Data, 2)
	assert.Equal(t, "A1", envelope.Data.Data[0].IdentityNumber)
	assert.Error(t, envelope.Data.Data[1].DecodeError())
}

func TestIngestDates_StopsOnSourceError(t *testing.T) {
	source := &fakeSource{
		pages: map[string][]domain.EmployeePage{
			"2026-01-03": {
				{Data: employees(1), Pagination: domain.Pagination{CurrentPage: 1, LastPage: 3, Total: 3}},
				{Data: employees(1), Pagination: domain.Pagination{CurrentPage: 2, LastPage: 3, Total: 3}},
			},
		},
		failOn: "2026-01-03#2",
	}
	publisher := &stubPublisher{}
	service := NewIngestService(source, publisher, "q", zaptest.NewLogger(t))

	report, err := service.IngestDates(context.Background(), []string{"2026-01-03", "2026-01-04"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
	assert.Equal(t, IngestReport{Dates: 1, Pages: 1, Employees: 1}, report)
	assert.NotContains(t, source.fetched, "2026-01-04#1")
}

func TestIngestDates_PublishError(t *testing.T) {
	source := &fakeSource{pages: map[string][]domain.EmployeePage{
		"2026-01-03": {{Data: employees(1), Pagination: domain.Pagination{CurrentPage: 1, LastPage: 1, Total: 1}}},
	}}
	publisher := &stubPublisher{failOn: map[int]bool{1: true}}
	service := NewIngestService(source, publisher, "q", zaptest.NewLogger(t))

	_, err := service.IngestDates(context.Background(), []string{"2026-01-03"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to queue")
}

type recordingIngester struct {
	dates [][]string
	err   error
}

func (r *recordingIngester) IngestDates(_ context.Context, dates []string) (IngestReport, error) {
	r.dates = append(r.dates, dates)
	return IngestReport{Dates: len(dates)}, r.err
}

type fakeLock struct {
	held       map[string]bool
	acquireErr error
	released   []string
}

func (l *fakeLock) Acquire(_ context.Context, date string) (string, bool, error) {
	if l.acquireErr != nil {
		return "", false, l.acquireErr
	}
	if l.held[date] {
		return "", false, nil
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[date] = true
	return "token-" + date, true, nil
}

func (l *fakeLock) Release(_ context.Context, date, token string) error {
	l.released = append(l.released, date+"/"+token)
	delete(l.held, date)
	return nil
}

func TestScheduler_IngestToday(t *testing.T) {
	ingester := &recordingIngester{}
	scheduler := NewScheduler(ingester, "0 6 * * *", zaptest.NewLogger(t))
	scheduler.now = func() time.Time { return time.Date(2026, 1, 19, 6, 0, 0, 0, time.UTC) }

	scheduler.IngestToday()

	assert.Equal(t, [][]string{{"2026-01-19"}}, ingester.dates)
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	scheduler := NewScheduler(&recordingIngester{}, "not a cron", zaptest.NewLogger(t))
	require.Error(t, scheduler.Start())
}

func TestScheduler_LockedDate(t *testing.T) {
	fixedNow := func() time.Time { return time.Date(2026, 1, 19, 6, 0, 0, 0, time.UTC) }
	lock := &fakeLock{}

	first := &recordingIngester{}
	replicaA := NewScheduler(first, "0 6 * * *", zaptest.NewLogger(t)).WithLock(lock)
	replicaA.now = fixedNow

	second := &recordingIngester{}
	replicaB := NewScheduler(second, "0 6 * * *", zaptest.NewLogger(t)).WithLock(lock)
	replicaB.now = fixedNow

	replicaA.IngestToday()
	replicaB.IngestToday()

	assert.Len(t, first.dates, 1)
	assert.Empty(t, second.dates)
	assert.Empty(t, lock.released)
}

func TestScheduler_ReleasesLockOnFailure(t *testing.T) {
	lock := &fakeLock{}
	ingester := &recordingIngester{err: errors.New("eposh down")}
	scheduler := NewScheduler(ingester, "0 6 * * *", zaptest.NewLogger(t)).WithLock(lock)
	scheduler.now = func() time.Time { return time.Date(2026, 1, 19, 6, 0, 0, 0, time.UTC) }

	scheduler.IngestToday()

	assert.Equal(t, []string{"2026-01-19/token-2026-01-19"}, lock.released)
	assert.False(t, lock.held["2026-01-19"])
}

func TestScheduler_RunsWhenLockUnavailable(t *testing.T) {
	ingester := &recordingIngester{}
	scheduler := NewScheduler(ingester, "0 6 * * *", zaptest.NewLogger(t)).WithLock(&fakeLock{acquireErr: errors.New("dial tcp: refused")})
	scheduler.now = func() time.Time { return time.Date(2026, 1, 19, 6, 0, 0, 0, time.UTC) }

	scheduler.IngestToday()

	assert.Equal(t, [][]string{{"2026-01-19"}}, ingester.dates)
}
