package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

var primaryKeys = map[Dialect]string{
	SQLite:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	Postgres: "BIGSERIAL PRIMARY KEY",
	MySQL:    "BIGINT AUTO_INCREMENT PRIMARY KEY",
}

// Timestamps are stored as microseconds since the epoch, UTC.
const (
	runsSchema = `CREATE TABLE IF NOT EXISTS %s (
		id %s,
		process_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		start_timestamp BIGINT NOT NULL,
		data_timestamp BIGINT NULL,
		last_process_timestamp BIGINT NOT NULL
	)`

	messagesSchema = `CREATE TABLE IF NOT EXISTS %s_messages (
		id %s,
		run_id BIGINT NOT NULL,
		type VARCHAR(16) NOT NULL,
		description TEXT NOT NULL,
		timestamp BIGINT NOT NULL
	)`

	runColumns = "id, process_id, status, start_timestamp, data_timestamp, last_process_timestamp"
)

// Store on a relational database, one runs table and one <table>_messages
// table per audit table. Tables are created on first use.
type sqlStore struct {
	db      *sql.DB
	dialect Dialect

	mu     sync.Mutex
	tables map[string]bool
}

func NewSqlStore(db *sql.DB, dialect Dialect) (Store, error) {
	if _, ok := primaryKeys[dialect]; !ok {
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}

	return &sqlStore{
		db:      db,
		dialect: dialect,
		tables:  map[string]bool{},
	}, nil
}

// Replace ? placeholders by $n for postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (s *sqlStore) ensure(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[table] {
		return nil
	}

	pk := primaryKeys[s.dialect]
	for _, schema := range []string{runsSchema, messagesSchema} {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schema, table, pk)); err != nil {
			return fmt.Errorf("create audit table %s: %w", table, err)
		}
	}

	s.tables[table] = true
	return nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func (s *sqlStore) Insert(ctx context.Context, table string, processId int64, ts time.Time) (RegisterId, error) {
	if err := s.ensure(ctx, table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("INSERT INTO %s (process_id, status, start_timestamp, last_process_timestamp) VALUES (?, ?, ?, ?)", table)
	args := []any{processId, string(Started), toMicros(ts), toMicros(ts)}

	if s.dialect == MySQL {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		id, err := result.LastInsertId()
		return RegisterId(id), err
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return RegisterId(id), nil
}

func (s *sqlStore) Transition(ctx context.Context, table string, id RegisterId, to Status, from []Status, ts time.Time, data *time.Time) error {
	if err := s.ensure(ctx, table); err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE %s SET status = ?, last_process_timestamp = ?", table)
	args := []any{string(to), toMicros(ts)}

	if data != nil {
		query += ", data_timestamp = ?"
		args = append(args, toMicros(*data))
	}

	query += " WHERE id = ?"
	args = append(args, int64(id))

	if len(from) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(from)-1) + ")"
		for _, status := range from {
			args = append(args, string(status))
		}
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, s.rebind(fmt.Sprintf("SELECT status FROM %s WHERE id = ?", table)), int64(id)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %d is %s", ErrInvalidTransition, id, status)
}

func (s *sqlStore) Append(ctx context.Context, table string, id RegisterId, msg Message) error {
	if err := s.ensure(ctx, table); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		s.rebind(fmt.Sprintf("UPDATE %s SET last_process_timestamp = ? WHERE id = ?", table)),
		toMicros(msg.Timestamp), int64(id))
	if err != nil {
		return err
	}

	if rows, err := result.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	_, err = s.db.ExecContext(ctx,
		s.rebind(fmt.Sprintf("INSERT INTO %s_messages (run_id, type, description, timestamp) VALUES (?, ?, ?, ?)", table)),
		int64(id), string(msg.Severity), msg.Description, toMicros(msg.Timestamp))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record      Record
		id          int64
		status      string
		start, last int64
		data        sql.NullInt64
	)

	if err := row.Scan(&id, &record.ProcessId, &status, &start, &data, &last); err != nil {
		return nil, err
	}

	record.RegisterId = RegisterId(id)
	record.Status = Status(status)
	record.StartTimestamp = fromMicros(start)
	record.LastProcessTimestamp = fromMicros(last)
	if data.Valid {
		value := fromMicros(data.Int64)
		record.DataTimestamp = &value
	}
	return &record, nil
}

func (s *sqlStore) messages(ctx context.Context, table string, record *Record) error {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(fmt.Sprintf("SELECT id, type, description, timestamp FROM %s_messages WHERE run_id = ? ORDER BY id", table)),
		int64(record.RegisterId))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg      Message
			severity string
			ts       int64
		)
		if err := rows.Scan(&msg.Id, &severity, &msg.Description, &ts); err != nil {
			return err
		}
		msg.Severity = Severity(severity)
		msg.Timestamp = fromMicros(ts)
		record.Messages = append(record.Messages, msg)
	}
	return rows.Err()
}

func (s *sqlStore) Get(ctx context.Context, table string, id RegisterId) (*Record, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", runColumns, table)), int64(id))

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return record, s.messages(ctx, table, record)
}

func (s *sqlStore) Find(ctx context.Context, table string, filter Filter) ([]*Record, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 1", runColumns, table)
	args := []any{}

	if len(filter.ProcessIds) > 0 {
		query += " AND process_id IN (?" + strings.Repeat(", ?", len(filter.ProcessIds)-1) + ")"
		for _, pid := range filter.ProcessIds {
			args = append(args, pid)
		}
	}
	if !filter.Begin.IsZero() {
		query += " AND start_timestamp >= ?"
		args = append(args, toMicros(filter.Begin))
	}
	if !filter.End.IsZero() {
		query += " AND start_timestamp < ?"
		args = append(args, toMicros(filter.End))
	}

	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}

	records := []*Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, record)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first from the query, oldest first to the caller
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	for _, record := range records {
		if err := s.messages(ctx, table, record); err != nil {
			return nil, err
		}
	}

	return records, nil
}

func (s *sqlStore) LastDone(ctx context.Context, table string, processId int64) (*Record, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE process_id = ? AND status = ? ORDER BY start_timestamp DESC, id DESC LIMIT 1", runColumns, table)),
		processId, string(Done))

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no successful run of process %d", ErrNotFound, processId)
	}
	return record, err
}

func (s *sqlStore) LastDataTimestamp(ctx context.Context, table string, processId int64) (*time.Time, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}

	var data sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		s.rebind(fmt.Sprintf("SELECT MAX(data_timestamp) FROM %s WHERE process_id = ? AND status = ?", table)),
		processId, string(Done))
	if err := row.Scan(&data); err != nil {
		return nil, err
	}

	if !data.Valid {
		return nil, nil
	}
	value := fromMicros(data.Int64)
	return &value, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
