package repository

import (
	"context"
	"log/slog"

	"github.com/UnknownOlympus/geobatch/internal/models"
)

type Repository struct {
	db  Database
	log *slog.Logger
}

type Interface interface {
	EnsureSchema(ctx context.Context) error
	UpsertResults(ctx context.Context, rows []models.Row) (int, error)
	Summary(ctx context.Context) (map[models.Status]int, error)
}

// NewRepository creates a new instance of Repository with the provided Database.
// It returns a pointer to the newly created Repository.
func NewRepository(db Database, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}
