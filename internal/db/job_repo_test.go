package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"plainly/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for Query ---

// mockRows implements pgx.Rows for testing Query results. Nil cell values
// scan into pointer destinations as NULL.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *int:
			*v = row[i].(int)
		case *time.Time:
			*v = row[i].(time.Time)
		case **time.Time:
			if row[i] == nil {
				*v = nil
			} else {
				ts := row[i].(time.Time)
				*v = &ts
			}
		case *types.JobStatus:
			*v = types.JobStatus(row[i].(string))
		case **string:
			if row[i] == nil {
				*v = nil
			} else {
				s := row[i].(string)
				*v = &s
			}
		case **int:
			if row[i] == nil {
				*v = nil
			} else {
				n := row[i].(int)
				*v = &n
			}
		case *types.RecipientFilter:
			if row[i] != nil {
				*v = row[i].(types.RecipientFilter)
			}
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- JobRepository Tests ---

func TestJobRepository_Claim_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("QueryRow", mock.Anything,
		mock.MatchedBy(func(sql string) bool {
			// The claim must be conditional on the pending status and must
			// return the post-increment attempt count.
			return strings.Contains(sql, "status = 'pending'") &&
				strings.Contains(sql, "attempts = attempts + 1") &&
				strings.Contains(sql, "RETURNING attempts")
		}),
		mock.Anything,
	).Return(&mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int) = 2
			return nil
		},
	})

	attempts, claimed, err := repo.Claim(context.Background(), "job_1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, attempts)
	db.AssertExpectations(t)
}

func TestJobRepository_Claim_LostRace(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	// Zero rows back from the conditional UPDATE: another instance claimed
	// the job between fetch and claim. Not an error, just not ours.
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	attempts, claimed, err := repo.Claim(context.Background(), "job_1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 0, attempts)
}

func TestJobRepository_Claim_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, _, err := repo.Claim(context.Background(), "job_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestJobRepository_FetchDue_HydratesJoins(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	scheduled := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		// Broadcast job with every join hit.
		{"job_1", "user_1", "bc_1", nil, nil, "sub_1", 0, scheduled,
			"ada@example.com", "Ada", "active",
			"Ada's List", "ada@sender.example.com",
			"Hello {{first_name}}", "Body text",
			nil, nil},
		// Sequence job whose subscriber row was deleted.
		{"job_2", "user_1", nil, "seq_1", "step_1", "sub_2", 1, scheduled,
			nil, nil, nil,
			"Ada's List", "ada@sender.example.com",
			nil, nil,
			"Step subject", "Step body"},
	})

	db.On("Query", mock.Anything,
		mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "j.status = 'pending'") &&
				strings.Contains(sql, "j.attempts < $2")
		}),
		mock.Anything,
	).Return(rows, nil)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	jobs, err := repo.FetchDue(context.Background(), now, 3, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	first := jobs[0]
	assert.Equal(t, "bc_1", first.BroadcastID)
	require.NotNil(t, first.Subscriber)
	assert.Equal(t, "ada@example.com", first.Subscriber.Email)
	assert.Equal(t, types.SubscriberActive, first.Subscriber.Status)
	require.NotNil(t, first.Broadcast)
	assert.Equal(t, "Hello {{first_name}}", first.Broadcast.Subject)
	assert.Nil(t, first.Step)

	second := jobs[1]
	assert.Equal(t, "seq_1", second.SequenceID)
	assert.Equal(t, "step_1", second.StepID)
	assert.Nil(t, second.Subscriber)
	assert.Nil(t, second.Broadcast)
	require.NotNil(t, second.Step)
	assert.Equal(t, "Step subject", second.Step.Subject)
}

func TestJobRepository_FetchDue_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.FetchDue(context.Background(), time.Now(), 3, 50)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestJobRepository_MarkFailed_RecordsReason(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything,
		mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "status = 'failed'")
		}),
		mock.MatchedBy(func(args []any) bool {
			return args[0] == "job_1" && args[1] == "Subscriber not active"
		}),
	).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkFailed(context.Background(), "job_1", "Subscriber not active")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobRepository_Release_KeepsAttempts(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything,
		mock.MatchedBy(func(sql string) bool {
			// Back to pending, no attempts reset.
			return strings.Contains(sql, "status = 'pending'") &&
				!strings.Contains(sql, "attempts")
		}),
		mock.Anything,
	).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Release(context.Background(), "job_1", "rate limited")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobRepository_ReapStale(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything,
		mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "status = 'processing'") &&
				strings.Contains(sql, "attempts < $2")
		}),
		mock.Anything,
	).Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	cutoff := time.Now().Add(-10 * time.Minute)
	reaped, err := repo.ReapStale(context.Background(), cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, reaped)
}

func TestJobRepository_ListByBroadcast(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	scheduled := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	processed := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	created := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{"job_2", "user_1", "bc_1", nil, nil, "sub_2", "failed", 3, scheduled,
			"Subscriber not active", processed, created, processed},
		{"job_1", "user_1", "bc_1", nil, nil, "sub_1", "sent", 1, scheduled,
			nil, processed, created, processed},
	})

	db.On("Query", mock.Anything,
		mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "broadcast_id = $1") &&
				strings.Contains(sql, "user_id = $2")
		}),
		mock.MatchedBy(func(args []any) bool {
			return args[0] == "bc_1" && args[1] == "user_1"
		}),
	).Return(rows, nil)

	jobs, err := repo.ListByBroadcast(context.Background(), "user_1", "bc_1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, types.JobStatusFailed, jobs[0].Status)
	assert.Equal(t, "Subscriber not active", jobs[0].ErrorMessage)
	assert.Equal(t, 3, jobs[0].Attempts)
	require.NotNil(t, jobs[0].ProcessedAt)
	assert.Equal(t, processed, *jobs[0].ProcessedAt)

	assert.Equal(t, types.JobStatusSent, jobs[1].Status)
	assert.Empty(t, jobs[1].ErrorMessage)
	db.AssertExpectations(t)
}

func TestJobRepository_ListByBroadcast_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListByBroadcast(context.Background(), "user_1", "bc_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestJobRepository_CountByBroadcast(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	rows := newMockRows([][]any{
		{"sent", 5},
		{"failed", 2},
		{"pending", 1},
		{"processing", 1},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	counts, err := repo.CountByBroadcast(context.Background(), "bc_1")
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Sent)
	assert.Equal(t, 2, counts.Failed)
	// In-flight rows count as pending for the completion check.
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 9, counts.Total)
}

func TestJobRepository_CountByBroadcast_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	counts, err := repo.CountByBroadcast(context.Background(), "bc_1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCounts{}, counts)
}
