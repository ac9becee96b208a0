package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const userColumns = `
	id, email, COALESCE(name, ''), role, status, last_login, last_activity,
	created_at`

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListAdmins returns active administrators, the recipients of alert and
// retention warning notifications.
func (s *Store) ListAdmins(ctx context.Context) ([]User, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'admin' AND status = $1
		ORDER BY email`, UserStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var admins []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admins = append(admins, *u)
	}
	return admins, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY email
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(1) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// TouchActivity moves a user's lastActivity forward. Retention of inactive
// users keys off this column.
func (s *Store) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE users SET last_activity = $1 WHERE id = $2`, at, userID)
	if err != nil {
		return fmt.Errorf("touch user activity: %w", err)
	}
	return nil
}

func (s *Store) SetUserStatus(ctx context.Context, userID, status string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE users SET status = $1 WHERE id = $2`, status, userID)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) CountInactiveUsersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(1) FROM users
		WHERE status = $1 AND last_activity < $2`,
		UserStatusInactive, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count inactive users: %w", err)
	}
	return count, nil
}

func (s *Store) ListStudents(ctx context.Context, limit, offset int) ([]Student, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, reference, status, created_at, updated_at
		FROM students
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Reference, &st.Status, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// CountInactiveStudentsBefore keys on created_at, matching the purge rule
// for students.
func (s *Store) CountInactiveStudentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(1) FROM students
		WHERE status = $1 AND created_at < $2`,
		StudentStatusInactive, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count inactive students: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Status,
		&u.LastLogin, &u.LastActivity, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
