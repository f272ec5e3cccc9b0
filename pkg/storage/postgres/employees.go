package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// EmployeeRepository implements storage.EmployeeStore
type EmployeeRepository struct {
	base
}

var _ storage.EmployeeStore = (*EmployeeRepository)(nil)

const employeeColumns = `id, user_id, first_name, last_name, email, phone, position,
	department, status, hire_date, created_at, updated_at`

func scanEmployee(row rowScanner) (*storage.Employee, error) {
	var e storage.Employee
	err := row.Scan(
		&e.ID, &e.UserID, &e.FirstName, &e.LastName, &e.Email, &e.Phone, &e.Position,
		&e.Department, &e.Status, &e.HireDate, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func employeeWhere(filter storage.EmployeeFilter) *where {
	w := &where{}
	w.addEq("status", filter.Status)
	w.addEq("department", filter.Department)
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		w.add("(first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?)", pattern, pattern, pattern)
	}
	return w
}

// List returns employees ordered by last name
func (r *EmployeeRepository) List(ctx context.Context, filter storage.EmployeeFilter) (out []*storage.Employee, err error) {
	defer r.track("employees.list")(&err)

	w := employeeWhere(filter)
	query := `SELECT ` + employeeColumns + ` FROM employees` + w.sql() +
		` ORDER BY last_name, first_name` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list employees", err)
	}
	defer rows.Close()

	out = []*storage.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get retrieves an employee by id
func (r *EmployeeRepository) Get(ctx context.Context, id uuid.UUID) (e *storage.Employee, err error) {
	defer r.track("employees.get")(&err)

	e, err = scanEmployee(r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get employee", err)
	}
	return e, nil
}

// GetByUserID retrieves the employee record linked to a profile
func (r *EmployeeRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (e *storage.Employee, err error) {
	defer r.track("employees.get_by_user")(&err)

	e, err = scanEmployee(r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE user_id = $1`, userID))
	if err != nil {
		return nil, translate("get employee by user", err)
	}
	return e, nil
}

// Create inserts an employee and fills in generated columns
func (r *EmployeeRepository) Create(ctx context.Context, e *storage.Employee) (err error) {
	defer r.track("employees.create")(&err)

	if e.Status == "" {
		e.Status = "active"
	}

	query := `
		INSERT INTO employees (user_id, first_name, last_name, email, phone, position, department, status, hire_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		e.UserID, e.FirstName, e.LastName, e.Email, e.Phone, e.Position, e.Department, e.Status, e.HireDate,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return translate("create employee", err)
	}
	return nil
}

// Update applies the non-nil fields of patch
func (r *EmployeeRepository) Update(ctx context.Context, id uuid.UUID, patch storage.EmployeePatch) (e *storage.Employee, err error) {
	defer r.track("employees.update")(&err)

	s := &set{}
	if patch.UserID != nil {
		s.add("user_id", *patch.UserID)
	}
	if patch.FirstName != nil {
		s.add("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		s.add("last_name", *patch.LastName)
	}
	if patch.Email != nil {
		s.add("email", *patch.Email)
	}
	if patch.Phone != nil {
		s.add("phone", *patch.Phone)
	}
	if patch.Position != nil {
		s.add("position", *patch.Position)
	}
	if patch.Department != nil {
		s.add("department", *patch.Department)
	}
	if patch.Status != nil {
		s.add("status", *patch.Status)
	}
	if patch.HireDate != nil {
		s.add("hire_date", *patch.HireDate)
	}

	if s.empty() {
		return r.Get(ctx, id)
	}

	query, args := s.update("employees", id, employeeColumns)
	e, err = scanEmployee(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translate("update employee", err)
	}
	return e, nil
}

// Delete removes an employee
func (r *EmployeeRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("employees.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return translate("delete employee", err)
	}
	return requireAffected("delete employee", res)
}

// Count returns the number of employees matching filter
func (r *EmployeeRepository) Count(ctx context.Context, filter storage.EmployeeFilter) (n int, err error) {
	defer r.track("employees.count")(&err)

	w := employeeWhere(filter)
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, translate("count employees", err)
	}
	return n, nil
}
