package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hshdacs/Hall-of-Fame/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.ProjectRepository = (*Repository)(nil)
