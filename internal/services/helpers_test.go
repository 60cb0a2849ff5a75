package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/repo"
)

// recorder is a Dispatcher that keeps every message it receives.
type recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recorder) Dispatch(m domain.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) all() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.msgs...)
}

var (
	patient42 = domain.Participant{Role: domain.RolePatient, ID: 42}
	patient43 = domain.Participant{Role: domain.RolePatient, ID: 43}
	doctor7   = domain.Participant{Role: domain.RoleDoctor, ID: 7}
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "services_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newServices(t *testing.T, opts LedgerOptions) (*RoomService, *MessageService, *recorder) {
	t.Helper()
	db := newTestDB(t)
	rooms := NewRoomService(db, repo.Rooms{}, time.Second)
	rec := &recorder{}
	if opts.MaxBodyRunes == 0 {
		opts.MaxBodyRunes = 100
	}
	return rooms, NewMessageService(db, rooms, rec, opts), rec
}
