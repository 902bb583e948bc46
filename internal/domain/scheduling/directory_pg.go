package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type directoryPG struct{ pool *pgxpool.Pool }

// NewDirectoryPG reads the doctors and patients projections.
func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (d *directoryPG) ResolveDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT id, email, name, specialty, department, available FROM doctors WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.Email, &doc.Name, &doc.Specialty, &doc.Department, &doc.Available)
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (d *directoryPG) ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT id, email, name FROM patients WHERE id = $1`, id,
	).Scan(&p.ID, &p.Email, &p.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
