package execution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// CockroachConfig holds connection pool tuning, identical in shape to
// the teacher's jobs.CockroachConfig.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig mirrors the teacher's defaults.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// CockroachStore implements Store over CockroachDB/Postgres, grounded on
// internal/jobs.CockroachStore — same connection setup, same
// sql.NullTime/sql.NullString scan idiom, adapted to the
// ExecutionRecord row shape.
type CockroachStore struct {
	db *sql.DB
}

// NewCockroachStoreFromDSN opens a pooled connection and pings it before
// returning, exactly as the teacher's store constructor does.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &CockroachStore{db: db}, nil
}

// Close releases database resources.
func (s *CockroachStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new execution row.
func (s *CockroachStore) Create(ctx context.Context, rec *coretypes.ExecutionRecord) error {
	if rec == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, function_namespace, function_name, trigger_type, trigger_id,
			user_id, chat_id, status, input_data, output_data, error_message, traceback,
			started_at, completed_at, duration_ms, generator_state, awaiting_prompt, awaiting_schema
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		rec.ExecutionID, rec.FunctionNamespace, rec.FunctionName, string(rec.TriggerType), nullableString(rec.TriggerID),
		rec.UserID, nullableString(rec.ChatID), string(rec.Status), []byte(rec.InputData), nullableBytes(rec.OutputData),
		nullableString(rec.Error), nullableString(rec.Traceback),
		nullTime(rec.StartedAt), nullTime(rec.CompletedAt), rec.DurationMS,
		nullableBytes(rec.GeneratorState), nullableString(rec.AwaitingPrompt), nullableBytes(rec.AwaitingSchema),
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// Update rewrites an execution row in place.
func (s *CockroachStore) Update(ctx context.Context, rec *coretypes.ExecutionRecord) error {
	if rec == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = $2, output_data = $3, error_message = $4, traceback = $5,
			started_at = $6, completed_at = $7, duration_ms = $8,
			generator_state = $9, awaiting_prompt = $10, awaiting_schema = $11
		WHERE execution_id = $1
	`,
		rec.ExecutionID, string(rec.Status), nullableBytes(rec.OutputData), nullableString(rec.Error), nullableString(rec.Traceback),
		nullTime(rec.StartedAt), nullTime(rec.CompletedAt), rec.DurationMS,
		nullableBytes(rec.GeneratorState), nullableString(rec.AwaitingPrompt), nullableBytes(rec.AwaitingSchema),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// Get returns an execution row by id, or nil if not found.
func (s *CockroachStore) Get(ctx context.Context, executionID string) (*coretypes.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, function_namespace, function_name, trigger_type, trigger_id,
			user_id, chat_id, status, input_data, output_data, error_message, traceback,
			started_at, completed_at, duration_ms, generator_state, awaiting_prompt, awaiting_schema
		FROM executions WHERE execution_id = $1
	`, executionID)

	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

// List returns executions in reverse chronological order of start time.
func (s *CockroachStore) List(ctx context.Context, limit, offset int) ([]*coretypes.ExecutionRecord, error) {
	query := `
		SELECT execution_id, function_namespace, function_name, trigger_type, trigger_id,
			user_id, chat_id, status, input_data, output_data, error_message, traceback,
			started_at, completed_at, duration_ms, generator_state, awaiting_prompt, awaiting_schema
		FROM executions ORDER BY started_at DESC NULLS LAST`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*coretypes.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner rowScanner) (*coretypes.ExecutionRecord, error) {
	var (
		rec                                                    coretypes.ExecutionRecord
		status, triggerType                                    string
		triggerID, chatID, errMsg, traceback, awaitingPrompt    sql.NullString
		outputData, generatorState, awaitingSchema              []byte
		startedAt, completedAt                                  sql.NullTime
	)
	if err := scanner.Scan(
		&rec.ExecutionID, &rec.FunctionNamespace, &rec.FunctionName, &triggerType, &triggerID,
		&rec.UserID, &chatID, &status, (*[]byte)(&rec.InputData), &outputData, &errMsg, &traceback,
		&startedAt, &completedAt, &rec.DurationMS, &generatorState, &awaitingPrompt, &awaitingSchema,
	); err != nil {
		return nil, err
	}
	rec.Status = coretypes.ExecutionStatus(status)
	rec.TriggerType = coretypes.TriggerType(triggerType)
	if triggerID.Valid {
		rec.TriggerID = triggerID.String
	}
	if chatID.Valid {
		rec.ChatID = chatID.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if traceback.Valid {
		rec.Traceback = traceback.String
	}
	if awaitingPrompt.Valid {
		rec.AwaitingPrompt = awaitingPrompt.String
	}
	if len(outputData) > 0 {
		rec.OutputData = outputData
	}
	if len(generatorState) > 0 {
		rec.GeneratorState = generatorState
	}
	if len(awaitingSchema) > 0 {
		rec.AwaitingSchema = awaitingSchema
	}
	if startedAt.Valid {
		rec.StartedAt = newTimePtr(startedAt.Time)
	}
	if completedAt.Valid {
		rec.CompletedAt = newTimePtr(completedAt.Time)
	}
	return &rec, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullableBytes(value []byte) []byte {
	if len(value) == 0 {
		return nil
	}
	return value
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
