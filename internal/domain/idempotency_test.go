package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_UniqueKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_participant_room_key") {
		t.Fatalf("expected composite index ux_participant_room_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID: "id-1", Participant: "patient:42", RoomID: "r1", Key: "k1",
		MessageID: "m1", Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Participant != "patient:42" || got.RoomID != "r1" || got.MessageID != "m1" || got.Status != 201 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be filled by autoCreateTime")
	}

	dup := &Idempotency{
		ID: "id-2", Participant: "patient:42", RoomID: "r1", Key: "k1",
		MessageID: "m2", Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (participant, room_id, key)")
	}

	other := &Idempotency{
		ID: "id-3", Participant: "doctor:7", RoomID: "r1", Key: "k1",
		MessageID: "m3", Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("same key from another participant must be allowed: %v", err)
	}
}
