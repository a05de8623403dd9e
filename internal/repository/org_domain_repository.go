package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/yourorg/identsync/internal/domain"
)

// PostgresOrgDomainRepository implements domain.OrgDomainRepository using
// PostgreSQL
type PostgresOrgDomainRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresOrgDomainRepository creates a new org domain repository
func NewPostgresOrgDomainRepository(db *sql.DB, logger *slog.Logger) *PostgresOrgDomainRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresOrgDomainRepository{
		db:     db,
		logger: logger,
	}
}

// Create registers an email domain for an organization
func (r *PostgresOrgDomainRepository) Create(ctx context.Context, d *domain.OrgDomain) error {
	query := `
		INSERT INTO org_domains (domain, organization_id, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, d.Domain, d.OrganizationID, d.CreatedBy).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create org domain",
			slog.String("domain", d.Domain),
			slog.Int64("organization_id", d.OrganizationID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create org domain: %w", err)
	}

	return nil
}

// ListByOrganization lists the organization's registered domains,
// optionally restricted to the given domain names.
func (r *PostgresOrgDomainRepository) ListByOrganization(ctx context.Context, orgID int64, domains []string) ([]*domain.OrgDomain, error) {
	query := `
		SELECT id, domain, organization_id, created_by, created_at
		FROM org_domains
		WHERE organization_id = $1 AND ($2 = 0 OR domain = ANY($3))
		ORDER BY domain
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, len(domains), pq.Array(domains))
	if err != nil {
		return nil, fmt.Errorf("failed to list org domains: %w", err)
	}
	defer rows.Close()

	var out []*domain.OrgDomain
	for rows.Next() {
		d := &domain.OrgDomain{}
		if err := rows.Scan(&d.ID, &d.Domain, &d.OrganizationID, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan org domain: %w", err)
		}
		out = append(out, d)
	}

	return out, rows.Err()
}
