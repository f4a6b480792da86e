package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/schema"
)

const (
	defaultMaxRows      = 1000
	defaultQueryTimeout = 30 * time.Second
	minSQLLength        = 10
)

const sqlSystemPrompt = `You write a single read-only SQL query for the schema below.
Return only the SQL. No explanation, no markdown, no comments.`

var (
	leadingKeyword = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|MERGE|GRANT|REVOKE|ATTACH|DETACH|PRAGMA|VACUUM)\b`)
	// REPLACE alone is a string function; only REPLACE INTO writes.
	replaceInto = regexp.MustCompile(`(?i)\bREPLACE\s+INTO\b`)
)

// SQLExecutor generates SQL for a plan with a model and runs it through
// database/sql.
type SQLExecutor struct {
	db           *sql.DB
	model        Completer
	schema       *schema.Artifact
	maxRows      int
	queryTimeout time.Duration
	logger       *zap.Logger
}

// ExecutorOption configures a SQLExecutor.
type ExecutorOption func(*SQLExecutor)

// WithMaxRows caps the rows read per query.
func WithMaxRows(n int) ExecutorOption {
	return func(e *SQLExecutor) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// WithQueryTimeout bounds each query.
func WithQueryTimeout(d time.Duration) ExecutorOption {
	return func(e *SQLExecutor) {
		if d > 0 {
			e.queryTimeout = d
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *SQLExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewSQLExecutor returns an executor over db.
func NewSQLExecutor(db *sql.DB, model Completer, art *schema.Artifact, opts ...ExecutorOption) *SQLExecutor {
	e := &SQLExecutor{
		db:           db,
		model:        model,
		schema:       art,
		maxRows:      defaultMaxRows,
		queryTimeout: defaultQueryTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements orchestrator.Executor.
func (e *SQLExecutor) Execute(ctx context.Context, req orchestrator.ExecuteRequest) (*orchestrator.ExecutionResult, error) {
	raw, err := e.model.Complete(ctx, sqlSystemPrompt, e.prompt(req))
	if err != nil {
		return nil, modelError(orchestrator.CollaboratorExecutor, err)
	}

	query := CleanSQL(raw)
	if len(query) < minSQLLength {
		ce := orchestrator.NewCollaboratorError(orchestrator.CollaboratorExecutor, CodeSQLGenerationFailed,
			"model did not return a usable SQL statement", nil)
		ce.Recoverable = true
		return nil, ce
	}
	if err := CheckReadOnly(query); err != nil {
		return nil, orchestrator.NewCollaboratorError(orchestrator.CollaboratorExecutor, CodeUnsafeSQL,
			"generated SQL was rejected", err)
	}

	e.logger.Debug("executing generated sql",
		zap.String("session_id", req.SessionID),
		zap.String("sql", query))
	return e.run(ctx, query)
}

func (e *SQLExecutor) run(ctx context.Context, query string) (*orchestrator.ExecutionResult, error) {
	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(qctx, query)
	if err != nil {
		return nil, e.queryError(ctx, query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.queryError(ctx, query, err)
	}

	result := &orchestrator.ExecutionResult{SQL: query, Columns: cols, Rows: []orchestrator.Row{}}
	var scanned int64
	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			result.Metadata.Truncated = true
			result.Partial = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.queryError(ctx, query, err)
		}
		row := make(orchestrator.Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
			scanned += int64(len(fmt.Sprint(v)))
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.queryError(ctx, query, err)
	}

	result.Metadata.Elapsed = time.Since(start)
	result.Metadata.RowCount = len(result.Rows)
	result.Metadata.BytesScanned = scanned
	return result, nil
}

// queryError reports a failed query. A timeout of the query itself is
// recoverable; the caller's own cancellation is passed through.
func (e *SQLExecutor) queryError(ctx context.Context, query string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	code := CodeQueryFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = orchestrator.CodeTimeout
	}
	ce := orchestrator.NewCollaboratorError(orchestrator.CollaboratorExecutor, code, "query failed", err)
	ce.Recoverable = true
	e.logger.Warn("query failed", zap.String("sql", query), zap.Error(err))
	return ce
}

func (e *SQLExecutor) prompt(req orchestrator.ExecuteRequest) string {
	var b strings.Builder
	if e.schema != nil {
		b.WriteString("SCHEMA CONTEXT:\n")
		b.WriteString(e.schema.Text())
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "USER QUESTION: %s\n\n", req.Query)
	b.WriteString("QUERY PLAN:\n")
	fmt.Fprintf(&b, "- Intent: %s\n", req.Plan.Intent)
	fmt.Fprintf(&b, "- Tables: %s\n", strings.Join(req.Plan.Tables, ", "))
	if len(req.Plan.Columns) > 0 {
		fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(req.Plan.Columns, ", "))
	}
	if len(req.Plan.Joins) > 0 {
		fmt.Fprintf(&b, "- Joins: %s\n", strings.Join(req.Plan.Joins, "; "))
	}
	if len(req.Plan.Filters) > 0 {
		fmt.Fprintf(&b, "- Filters: %s\n", strings.Join(req.Plan.Filters, "; "))
	}
	if len(req.Plan.Aggregations) > 0 {
		fmt.Fprintf(&b, "- Aggregations: %s\n", strings.Join(req.Plan.Aggregations, ", "))
	}
	if req.Plan.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", req.Plan.Notes)
	}
	fmt.Fprintf(&b, "\nLimit the result to at most %d rows.\n", e.maxRows)
	return b.String()
}

// CleanSQL strips markdown fences, comment lines and a trailing semicolon.
func CleanSQL(raw string) string {
	text := llm.StripFences(raw)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSuffix(strings.TrimSpace(strings.Join(lines, "\n")), ";")
}

// CheckReadOnly accepts a single SELECT or WITH statement. Quoted literals,
// quoted identifiers and comments are blanked before the keyword scan.
func CheckReadOnly(query string) error {
	code, err := stripQuoted(query)
	if err != nil {
		return err
	}
	if strings.Contains(code, ";") {
		return errors.New("multiple statements are not allowed")
	}
	if !leadingKeyword.MatchString(code) {
		return errors.New("only SELECT or WITH queries are allowed")
	}
	if kw := writeKeyword.FindString(code); kw != "" {
		return fmt.Errorf("statement contains %s", strings.ToUpper(kw))
	}
	if replaceInto.MatchString(code) {
		return errors.New("statement contains REPLACE INTO")
	}
	return nil
}

// stripQuoted replaces the contents of '...', "...", and `...` runs with
// nothing and comments with a space. A doubled quote inside a run is an
// escaped quote.
func stripQuoted(query string) (string, error) {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := i + 1
			for {
				j := strings.IndexByte(query[end:], c)
				if j < 0 {
					return "", errors.New("unterminated quoted string")
				}
				end += j + 1
				if end < len(query) && query[end] == c {
					end++
					continue
				}
				break
			}
			b.WriteByte(c)
			b.WriteByte(c)
			i = end - 1
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				i = len(query)
			} else {
				i += j
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			j := strings.Index(query[i+2:], "*/")
			if j < 0 {
				return "", errors.New("unterminated comment")
			}
			i += j + 3
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
