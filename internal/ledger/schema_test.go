package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalnine/perffect/internal/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyDB is a database/sql connector whose first schemaFailures CREATE
// statements fail. It counts every statement it sees.
type flakyDB struct {
	mu             sync.Mutex
	schemaFailures int
	schemaExecs    int
	inserts        int
}

func (f *flakyDB) Connect(context.Context) (driver.Conn, error) { return flakyConn{f}, nil }
func (f *flakyDB) Driver() driver.Driver                        { return nil }

type flakyConn struct{ db *flakyDB }

func (c flakyConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if strings.Contains(query, "CREATE TABLE") {
		c.db.schemaExecs++
		if c.db.schemaExecs <= c.db.schemaFailures {
			return nil, errors.New("connection refused")
		}
		return driver.RowsAffected(0), nil
	}
	c.db.inserts++
	return driver.RowsAffected(1), nil
}

func (c flakyConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c flakyConn) Close() error                        { return nil }
func (c flakyConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func TestRecordRetriesSchemaAfterFailure(t *testing.T) {
	fake := &flakyDB{schemaFailures: 1}
	l := &Ledger{db: sql.OpenDB(fake)}
	defer l.Close()

	rec := &result.TrialRecord{RunID: "r1", Seed: 3, Status: result.StatusPassed, StartedAt: time.Now()}
	ctx := context.Background()

	err := l.Record(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")

	require.NoError(t, l.Record(ctx, rec))
	require.NoError(t, l.Record(ctx, rec))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.schemaExecs, "schema is created once it succeeds")
	assert.Equal(t, 2, fake.inserts)
}
