package agent

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
)

// ErrNotFound is returned when an agent profile cannot be resolved.
var ErrNotFound = errors.New("agent not found")

// Store exposes agent profile persistence for handlers and the WS transport.
type Store interface {
	Create(ctx context.Context, profile *Profile) error
	FindByID(ctx context.Context, id uint) (*Profile, error)
	ListByUser(ctx context.Context, userID uint) ([]Profile, error)
	Update(ctx context.Context, profile *Profile) error
	Delete(ctx context.Context, id, userID uint) error
}

// GormStore implements Store on top of the relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by the supplied gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, profile *Profile) error {
	return s.db.WithContext(ctx).Create(profile).Error
}

func (s *GormStore) FindByID(ctx context.Context, id uint) (*Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).First(&profile, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID uint) ([]Profile, error) {
	var profiles []Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *GormStore) Update(ctx context.Context, profile *Profile) error {
	return s.db.WithContext(ctx).Save(profile).Error
}

func (s *GormStore) Delete(ctx context.Context, id, userID uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Profile{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryStore implements Store with an in-memory map, suitable for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID uint
	items  map[uint]Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items ...Profile) *MemoryStore {
	s := &MemoryStore{items: make(map[uint]Profile), nextID: 1}
	for _, item := range items {
		if item.ID == 0 {
			item.ID = s.nextID
		}
		if item.ID >= s.nextID {
			s.nextID = item.ID + 1
		}
		s.items[item.ID] = item
	}
	return s
}

func (s *MemoryStore) Create(_ context.Context, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.ID = s.nextID
	s.nextID++
	s.items[profile.ID] = *profile
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uint) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &profile, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID uint) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Profile
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[profile.ID]; !ok {
		return ErrNotFound
	}
	s.items[profile.ID] = *profile
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.UserID != userID {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}
