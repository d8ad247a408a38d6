package loader

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/event"
	"bq2pg/internal/metrics"
	"bq2pg/internal/progress"
)

const upsertPattern = `INSERT INTO application_events AS t`

var base = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func ev(user, name string, offset time.Duration, payload string) event.Event {
	e := event.Event{
		Name:      name,
		Timestamp: base.Add(offset),
		UserID:    user,
		Data:      json.RawMessage(payload),
	}
	e.EventID = event.DeriveID(e.Key())
	return e
}

func newLoader(t *testing.T, concurrency int) (*Loader, sqlmock.Sqlmock, *progress.Tracker) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker := progress.NewTracker()
	l, err := New(db, Config{Table: "application_events", Concurrency: concurrency}, metrics.New(prometheus.NewRegistry()), tracker, nil)
	require.NoError(t, err)
	return l, mock, tracker
}

func returned(flags ...bool) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"inserted"})
	for _, f := range flags {
		rows.AddRow(f)
	}
	return rows
}

func argsFor(events ...event.Event) []driver.Value {
	var out []driver.Value
	for _, a := range upsertArgs(events) {
		out = append(out, a)
	}
	return out
}

func TestLoadPartitionsIntoBatches(t *testing.T) {
	l, mock, tracker := newLoader(t, 1)

	events := []event.Event{
		ev("u1", "purchase", 0, `{"v":1}`),
		ev("u2", "purchase", time.Minute, `{"v":2}`),
		ev("u3", "purchase", 2*time.Minute, `{"v":3}`),
		ev("u4", "sign_up", 3*time.Minute, `{"v":4}`),
		ev("u5", "sign_up", 4*time.Minute, `{"v":5}`),
	}

	mock.ExpectQuery(upsertPattern).WithArgs(argsFor(events[0:2]...)...).WillReturnRows(returned(true, true))
	mock.ExpectQuery(upsertPattern).WithArgs(argsFor(events[2:4]...)...).WillReturnRows(returned(true, false))
	mock.ExpectQuery(upsertPattern).WithArgs(argsFor(events[4:5]...)...).WillReturnRows(returned())

	res, err := l.Load(context.Background(), event.NewSliceIterator(events), 2)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 3, Updated: 1, Skipped: 1}, res)
	assert.Equal(t, int64(5), res.Total())
	assert.NoError(t, mock.ExpectationsWereMet())

	s := tracker.GetStatus()
	assert.Equal(t, int64(5), s.Read)
	assert.Equal(t, int64(3), s.Batches)
}

func TestLoadDuplicateInBatchKeepsLast(t *testing.T) {
	l, mock, _ := newLoader(t, 1)

	first := ev("user-1", "purchase", 0, `{"amount":10}`)
	other := ev("user-2", "purchase", 0, `{"amount":5}`)
	last := ev("user-1", "purchase", 0, `{"amount":20}`)

	// one row for the key, carrying the payload of the last occurrence
	mock.ExpectQuery(upsertPattern).WithArgs(argsFor(last, other)...).WillReturnRows(returned(true, true))

	res, err := l.Load(context.Background(), event.NewSliceIterator([]event.Event{first, other, last}), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2, Skipped: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRepeatedDeliveryIsNoop(t *testing.T) {
	l, mock, _ := newLoader(t, 1)
	events := []event.Event{ev("u1", "a", 0, `{}`), ev("u2", "a", 0, `{}`)}

	// first delivery inserts, second finds identical rows and returns nothing
	mock.ExpectQuery(upsertPattern).WillReturnRows(returned(true, true))
	mock.ExpectQuery(upsertPattern).WillReturnRows(returned())

	res, err := l.Load(context.Background(), event.NewSliceIterator(events), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2}, res)

	res, err = l.Load(context.Background(), event.NewSliceIterator(events), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2}, res)
}

func TestLoadEmptyIterator(t *testing.T) {
	l, mock, _ := newLoader(t, 1)

	res, err := l.Load(context.Background(), event.NewSliceIterator(nil), 100)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadBatchFailureAborts(t *testing.T) {
	l, mock, tracker := newLoader(t, 1)

	events := []event.Event{
		ev("u1", "a", 0, `{}`),
		ev("u2", "a", 0, `{}`),
		ev("u3", "a", 0, `{}`),
	}
	pgErr := &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type json"}
	mock.ExpectQuery(upsertPattern).WillReturnRows(returned(true))
	mock.ExpectQuery(upsertPattern).WillReturnError(pgErr)

	res, err := l.Load(context.Background(), event.NewSliceIterator(events), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, etlerr.ErrData)
	assert.ErrorIs(t, err, pgErr)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, int64(1), tracker.GetStatus().FailedBatches)
	// the third batch is never attempted
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadConnectionFailureIsTransient(t *testing.T) {
	l, mock, _ := newLoader(t, 1)
	resetErr := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	mock.ExpectQuery(upsertPattern).WillReturnError(resetErr)

	_, err := l.Load(context.Background(), event.NewSliceIterator([]event.Event{ev("u", "a", 0, `{}`)}), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, etlerr.ErrTransientSink)
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.True(t, etlerr.IsRetryable(err))
}

type failingIterator struct {
	events []event.Event
	err    error
	stops  int
}

func (f *failingIterator) Next() (event.Event, error) {
	if len(f.events) == 0 {
		return event.Event{}, f.err
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e, nil
}

func (f *failingIterator) Stop() { f.stops++ }

func TestLoadIteratorErrorReturnedUnmodified(t *testing.T) {
	l, mock, _ := newLoader(t, 1)

	srcErr := etlerr.TransientSource("warehouse.fetch", errors.New("quota exceeded"))
	it := &failingIterator{
		events: []event.Event{ev("u1", "a", 0, `{}`), ev("u2", "a", 0, `{}`)},
		err:    srcErr,
	}
	mock.ExpectQuery(upsertPattern).WillReturnRows(returned(true))

	_, err := l.Load(context.Background(), it, 1)
	assert.Same(t, srcErr, err)
	assert.Equal(t, 1, it.stops)
}

func TestLoadInvalidBatchSizeStopsIterator(t *testing.T) {
	l, mock, _ := newLoader(t, 1)
	it := &failingIterator{events: []event.Event{ev("u1", "a", 0, `{}`)}}

	_, err := l.Load(context.Background(), it, 0)
	assert.ErrorIs(t, err, etlerr.ErrConfiguration)
	assert.Equal(t, 1, it.stops)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadConcurrentBatches(t *testing.T) {
	l, mock, _ := newLoader(t, 4)
	mock.MatchExpectationsInOrder(false)

	var events []event.Event
	for i := 0; i < 40; i++ {
		events = append(events, ev(fmt.Sprintf("u%d", i), "a", 0, `{}`))
	}
	for i := 0; i < 10; i++ {
		mock.ExpectQuery(upsertPattern).WillReturnRows(returned(true, true, true, true))
	}

	res, err := l.Load(context.Background(), event.NewSliceIterator(events), 4)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 40}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRejectsBadBatchSize(t *testing.T) {
	l, _, _ := newLoader(t, 1)

	_, err := l.Load(context.Background(), event.NewSliceIterator(nil), 0)
	assert.ErrorIs(t, err, etlerr.ErrConfiguration)
}

func TestLoadTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l, err := New(db, Config{Table: "application_events", Timeout: 20 * time.Millisecond}, nil, nil, nil)
	require.NoError(t, err)

	mock.ExpectQuery(upsertPattern).WillDelayFor(time.Second).WillReturnRows(returned(true))

	_, err = l.Load(context.Background(), event.NewSliceIterator([]event.Event{ev("u", "a", 0, `{}`)}), 10)
	assert.ErrorIs(t, err, etlerr.ErrTransientSink)
}

func TestNewRejectsBadTable(t *testing.T) {
	_, err := New(nil, Config{Table: "events;--"}, nil, nil, nil)
	assert.ErrorIs(t, err, etlerr.ErrConfiguration)
}

func TestUpsertSQL(t *testing.T) {
	q := upsertSQL("application_events", 2)

	assert.Contains(t, q, "($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb), ($9, $10,")
	assert.Contains(t, q, "ON CONFLICT (user_id, event_timestamp, event_name) DO UPDATE SET")
	assert.Contains(t, q, "IS DISTINCT FROM")
	assert.Contains(t, q, "RETURNING (xmax = 0)")
	assert.Equal(t, 2, strings.Count(q, "::jsonb)"))
}

func TestUpsertArgs(t *testing.T) {
	e := event.Event{Name: "a", UserID: "u", Timestamp: base, SessionID: ""}
	args := upsertArgs([]event.Event{e})

	require.Len(t, args, columnsPerRow)
	assert.Equal(t, event.DeriveID(e.Key()), args[0])
	assert.Nil(t, args[4])
	assert.Nil(t, args[5])
}

func TestDedupe(t *testing.T) {
	a1 := ev("u1", "a", 0, `1`)
	b := ev("u2", "a", 0, `2`)
	a2 := ev("u1", "a", 0, `3`)
	c := ev("u1", "a", time.Microsecond, `4`)

	out, dropped := dedupe([]event.Event{a1, b, a2, c})
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []event.Event{a2, b, c}, out)
}
