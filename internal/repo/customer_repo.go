package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Outreach/internal/domain"
)

// CustomerRepo — репозиторий customers.
//
// Для движка это почти read-only collaborator: читают condition- и
// send_email-шаги, мутирует только add_tag (атомарным array-append).
type CustomerRepo struct {
	pool *pgxpool.Pool
}

// NewCustomerRepo создаёт новый CustomerRepo.
func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

// Create создаёт customer'а.
//
// Email уникален; повторная регистрация возвращает ErrAlreadyExists.
func (r *CustomerRepo) Create(ctx context.Context, c *domain.Customer) error {
	query := `
		INSERT INTO customers (id, email, external_id, tags, unsubscribed, bounced, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
	`
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := r.pool.Exec(ctx, query,
		c.ID, c.Email, nullString(c.ExternalID), tags, c.Unsubscribed, c.Bounced, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает customer'а по ID.
func (r *CustomerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	query := `
		SELECT id, email, external_id, tags, unsubscribed, bounced, created_at
		FROM customers
		WHERE id = $1
	`
	var c domain.Customer
	var externalID *string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Email, &externalID, &c.Tags, &c.Unsubscribed, &c.Bounced, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	if externalID != nil {
		c.ExternalID = *externalID
	}
	return &c, nil
}

// AddTag атомарно добавляет тег (идемпотентно: повторное добавление — no-op).
func (r *CustomerRepo) AddTag(ctx context.Context, id uuid.UUID, tag string) error {
	query := `
		UPDATE customers
		SET tags = array_append(tags, $2)
		WHERE id = $1 AND NOT ($2 = ANY(tags))
	`
	_, err := r.pool.Exec(ctx, query, id, tag)
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

// ListMailable возвращает страницу customers, которым можно слать письма.
// Используется scheduler'ом для периодических триггеров flows.
func (r *CustomerRepo) ListMailable(ctx context.Context, limit, offset int) ([]domain.Customer, error) {
	query := `
		SELECT id, email, external_id, tags, unsubscribed, bounced, created_at
		FROM customers
		WHERE NOT unsubscribed AND NOT bounced
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list mailable customers: %w", err)
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		var c domain.Customer
		var externalID *string
		if err := rows.Scan(&c.ID, &c.Email, &externalID, &c.Tags, &c.Unsubscribed, &c.Bounced, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		if externalID != nil {
			c.ExternalID = *externalID
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// SetBounced помечает адрес как bounced.
func (r *CustomerRepo) SetBounced(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE customers SET bounced = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set bounced: %w", err)
	}
	return nil
}
