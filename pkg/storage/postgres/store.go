package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// PostgreSQL error codes the stores translate
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// base carries what every repository shares
type base struct {
	db      querier
	metrics *observability.Metrics
}

// track starts timing op. Call the returned func with the named error result:
//
//	defer r.track("projects.get")(&err)
func (b *base) track(op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		if b.metrics == nil {
			return
		}
		err := *errp
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
		b.metrics.ObserveStore(op, start, err)
	}
}

// Store bundles every repository over one connection pool
type Store struct {
	db *sql.DB

	Profiles    *ProfileRepository
	Employees   *EmployeeRepository
	Projects    *ProjectRepository
	Tasks       *TaskRepository
	Submissions *SubmissionRepository
	Jobs        *JobRepository
	Comments    *CommentRepository
	Attachments *AttachmentRepository
	Contacts    *ContactRepository
	Emails      *EmailRepository
	Activity    *ActivityRepository
	Relations   *RelationRepository
}

// NewStore creates the repositories. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	b := base{db: db, metrics: metrics}
	return &Store{
		db:          db,
		Profiles:    &ProfileRepository{base: b},
		Employees:   &EmployeeRepository{base: b},
		Projects:    &ProjectRepository{base: b},
		Tasks:       &TaskRepository{base: b},
		Submissions: &SubmissionRepository{base: b},
		Jobs:        &JobRepository{base: b},
		Comments:    &CommentRepository{base: b},
		Attachments: &AttachmentRepository{base: b},
		Contacts:    &ContactRepository{base: b},
		Emails:      &EmailRepository{base: b},
		Activity:    &ActivityRepository{base: b},
		Relations:   &RelationRepository{base: b},
	}
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// translate maps driver errors onto storage sentinels
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to %s: %w", op, storage.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("failed to %s: %w", op, storage.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("failed to %s: %w", op, storage.ErrReferenceMissing)
		}
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

// requireAffected turns a zero-row write into ErrNotFound
func requireAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", op, storage.ErrNotFound)
	}
	return nil
}

// where accumulates a conjunction of predicates with $n placeholders
type where struct {
	clauses []string
	args    []interface{}
}

// add appends a predicate; "?" is replaced by the next placeholder
func (w *where) add(clause string, args ...interface{}) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

// addEq appends column = value when value is non-empty
func (w *where) addEq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

// sql renders the WHERE clause, or an empty string
func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page renders LIMIT/OFFSET using the next placeholders
func (w *where) page(p storage.Page) string {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	w.args = append(w.args, limit, p.Offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

// set accumulates assignments for a partial update
type set struct {
	columns []string
	args    []interface{}
}

func (s *set) add(column string, value interface{}) {
	s.args = append(s.args, value)
	s.columns = append(s.columns, fmt.Sprintf("%s = $%d", column, len(s.args)))
}

func (s *set) empty() bool {
	return len(s.columns) == 0
}

// update renders "UPDATE table SET ... WHERE id = $n RETURNING cols"
func (s *set) update(table string, id interface{}, returning string) (string, []interface{}) {
	cols := append(s.columns, "updated_at = NOW()")
	args := append(s.args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		table, strings.Join(cols, ", "), len(args), returning)
	return query, args
}
