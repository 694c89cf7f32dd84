package migrations

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r, err := NewRunner(db, zap.NewNop())
	require.NoError(t, err)
	return r, mock
}

func expectPreamble(mock sqlmock.Sqlmock, applied ...string) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock($1)`)).
		WithArgs(advisoryLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"version"})
	for _, v := range applied {
		rows.AddRow(v)
	}
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).WillReturnRows(rows)
}

func expectApply(mock sqlmock.Sqlmock, bodyPattern, version, name string) {
	mock.ExpectBegin()
	mock.ExpectExec(bodyPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(version, name).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock($1)`)).
		WithArgs(advisoryLockID).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestLoad_Ordered(t *testing.T) {
	ms, err := Load()
	require.NoError(t, err)
	require.Len(t, ms, 4)
	assert.Equal(t, "0001", ms[0].Version)
	assert.Equal(t, "0002", ms[1].Version)
	assert.Equal(t, "pending_password_change_status", ms[1].Name)
	assert.Equal(t, "0003", ms[2].Version)
	assert.Equal(t, "pending_password_change_one_pending", ms[3].Name)
}

func TestLoadFS_Rejects(t *testing.T) {
	_, err := loadFS(fstest.MapFS{"sql/nounderscore.sql": {Data: []byte("SELECT 1")}}, "sql")
	assert.Error(t, err)

	_, err = loadFS(fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte("SELECT 1")},
		"sql/0001_b.sql": {Data: []byte("SELECT 1")},
	}, "sql")
	assert.Error(t, err)
}

func TestUp_FreshDatabase(t *testing.T) {
	r, mock := newRunner(t)

	expectPreamble(mock)
	expectApply(mock, `CREATE TABLE IF NOT EXISTS users`, "0001", "init")
	expectApply(mock, `ADD COLUMN IF NOT EXISTS status`, "0002", "pending_password_change_status")
	expectApply(mock, `ADD COLUMN IF NOT EXISTS last_sent_at`, "0003", "pending_registrations_last_sent")
	expectApply(mock, `CREATE UNIQUE INDEX IF NOT EXISTS uq_pending_password_changes_user_pending`, "0004", "pending_password_change_one_pending")
	expectUnlock(mock)

	done, err := r.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002", "0003", "0004"}, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUp_RerunIsNoop(t *testing.T) {
	r, mock := newRunner(t)

	expectPreamble(mock, "0001", "0002", "0003", "0004")
	expectUnlock(mock)

	done, err := r.Up(context.Background())
	require.NoError(t, err)
	assert.Empty(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUp_AppliesOnlyMissing(t *testing.T) {
	r, mock := newRunner(t)

	expectPreamble(mock, "0001")
	expectApply(mock, `ADD COLUMN IF NOT EXISTS status`, "0002", "pending_password_change_status")
	expectApply(mock, `ADD COLUMN IF NOT EXISTS last_sent_at`, "0003", "pending_registrations_last_sent")
	expectApply(mock, `WHERE status = 'pending'`, "0004", "pending_password_change_one_pending")
	expectUnlock(mock)

	done, err := r.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002", "0003", "0004"}, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUp_FailureRollsBackAndStops(t *testing.T) {
	r, mock := newRunner(t)

	expectPreamble(mock, "0001")
	mock.ExpectBegin()
	mock.ExpectExec(`ADD COLUMN IF NOT EXISTS status`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()
	expectUnlock(mock)

	done, err := r.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002")
	assert.Empty(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus(t *testing.T) {
	r, mock := newRunner(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow("0001", at))

	st, err := r.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, st, 4)
	require.NotNil(t, st[0].AppliedAt)
	assert.Equal(t, at, *st[0].AppliedAt)
	assert.Nil(t, st[1].AppliedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Every statement must be safe to run twice.
func TestMigrationFilesAreIdempotent(t *testing.T) {
	ms, err := Load()
	require.NoError(t, err)

	guarded := regexp.MustCompile(`(?i)^(CREATE (UNIQUE )?INDEX IF NOT EXISTS|CREATE TABLE IF NOT EXISTS|ALTER TABLE \S+ ADD COLUMN IF NOT EXISTS|UPDATE \S+ )`)
	for _, m := range ms {
		for _, stmt := range statements(m.SQL) {
			assert.Regexp(t, guarded, stmt, "migration %s: unguarded statement", m.Version)
		}
	}
}

func TestStatusMigrationHasNoCheckConstraint(t *testing.T) {
	ms, err := Load()
	require.NoError(t, err)
	for _, s := range statements(ms[1].SQL) {
		assert.NotContains(t, strings.ToUpper(s), "CHECK")
	}
}

func statements(sqlText string) []string {
	var lines []string
	for _, l := range strings.Split(sqlText, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "--") {
			continue
		}
		lines = append(lines, l)
	}
	var out []string
	for _, s := range strings.Split(strings.Join(lines, "\n"), ";") {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func TestOnePendingPerUserIndexIsPartial(t *testing.T) {
	ms, err := Load()
	require.NoError(t, err)
	joined := strings.Join(statements(ms[3].SQL), "\n")
	assert.Contains(t, joined, "CREATE UNIQUE INDEX IF NOT EXISTS uq_pending_password_changes_user_pending ON pending_password_changes (user_id) WHERE status = 'pending'")
}
