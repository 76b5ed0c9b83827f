package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"enrollment/internal/model"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) IdentityExists(ctx context.Context, email, nationalID string) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM inscricoes WHERE cpf = $1 OR email = $2)
	`, nationalID, email)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("identity lookup: %w", err)
	}
	return exists, nil
}

// CreateEnrollment inserts a new row. A unique-index violation on email or
// cpf is reported as ErrConflict.
func (s *Store) CreateEnrollment(ctx context.Context, e model.Enrollment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inscricoes (id, nome, email, cpf, senha_hash, tipo_curso, endereco, bairro, cidade, estado, cep, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.FullName, e.Email, e.NationalID, e.PasswordHash, string(e.CourseType), e.Street, e.Neighborhood, e.City, e.State, e.PostalCode, e.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert enrollment: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (s *Store) GetEnrollmentByEmail(ctx context.Context, email string) (model.Enrollment, error) {
	var e model.Enrollment
	var course string
	row := s.pool.QueryRow(ctx, `
		SELECT id, nome, email, cpf, senha_hash, tipo_curso, endereco, bairro, cidade, estado, cep, created_at
		FROM inscricoes
		WHERE email = $1
	`, email)
	err := row.Scan(
		&e.ID,
		&e.FullName,
		&e.Email,
		&e.NationalID,
		&e.PasswordHash,
		&course,
		&e.Street,
		&e.Neighborhood,
		&e.City,
		&e.State,
		&e.PostalCode,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Enrollment{}, ErrNotFound
	}
	if err != nil {
		return model.Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	e.CourseType = model.CourseType(course)
	return e, nil
}

func (s *Store) ListEnrollments(ctx context.Context) ([]model.EnrollmentSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT nome, email, cpf, tipo_curso, cidade, estado
		FROM inscricoes
		ORDER BY nome
	`)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	out := []model.EnrollmentSummary{}
	for rows.Next() {
		var item model.EnrollmentSummary
		var course string
		if err := rows.Scan(&item.FullName, &item.Email, &item.NationalID, &course, &item.City, &item.State); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		item.CourseType = model.CourseType(course)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
