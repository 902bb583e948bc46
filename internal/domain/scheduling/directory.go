package scheduling

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Directory resolves doctors and patients owned by user management. Both
// methods return ErrRecordNotFound for unknown ids.
type Directory interface {
	ResolveDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

// MemoryDirectory is a Directory backed by maps, used with MemoryStore.
type MemoryDirectory struct {
	mu       sync.RWMutex
	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
	}
}

func (d *MemoryDirectory) AddDoctor(doc Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doctors[doc.ID] = doc
}

func (d *MemoryDirectory) AddPatient(p Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *MemoryDirectory) ResolveDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &doc, nil
}

func (d *MemoryDirectory) ResolvePatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &p, nil
}
