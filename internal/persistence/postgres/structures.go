package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/observability"
)

// uniqueViolation is the Postgres SQLSTATE for a uniqueness-constraint hit.
const uniqueViolation = "23505"

// StructureRepository implements the append-only structure catalog.
type StructureRepository struct {
	pool *pgxpool.Pool
}

// NewStructureRepository constructs a StructureRepository.
func NewStructureRepository(pool *pgxpool.Pool) *StructureRepository {
	return &StructureRepository{pool: pool}
}

// FindOrCreate resolves the catalog row for a signature, inserting on first
// encounter. Concurrent first-time creation is settled by the uniqueness
// constraint: a duplicate insert resolves to a re-read of the winner.
func (r *StructureRepository) FindOrCreate(ctx context.Context, structure domain.IntervalStructure) (*domain.IntervalStructure, error) {
	if existing, err := r.FindBySignature(ctx, structure.Signature); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	structure.ID = uuid.NewString()
	const stmt = `INSERT INTO interval_structures (structure_id, name, signature, training_type, interval_type)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at`

	err := r.pool.QueryRow(ctx, stmt,
		structure.ID,
		structure.Name,
		structure.Signature,
		structure.TrainingType,
		structure.IntervalType,
	).Scan(&structure.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return r.FindBySignature(ctx, structure.Signature)
		}
		return nil, err
	}

	observability.RecordStructureCreated()
	return &structure, nil
}

// FindBySignature returns the catalog row for a signature, nil when absent.
func (r *StructureRepository) FindBySignature(ctx context.Context, signature string) (*domain.IntervalStructure, error) {
	const query = `SELECT structure_id, name, signature, training_type, interval_type, created_at
        FROM interval_structures WHERE signature=$1`

	var s domain.IntervalStructure
	err := r.pool.QueryRow(ctx, query, signature).Scan(
		&s.ID, &s.Name, &s.Signature, &s.TrainingType, &s.IntervalType, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
