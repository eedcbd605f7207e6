package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/depotlabs/depot/internal/models"
)

func testFile(id, userID string) *models.FileRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.FileRecord{
		ID:           id,
		UserID:       userID,
		OriginalName: "report.pdf",
		Mimetype:     "application/pdf",
		Size:         1024,
		PublicID:     "objects/" + id,
		SecureURL:    "depot://objects/" + id,
		ContentHash:  "abc123",
		Version:      1,
		Status:       models.FileStatusStored,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestFileStore_CreateAndGet(t *testing.T) {
	store := NewFileStore(testDB(t), testLogger())
	ctx := context.Background()

	file := testFile("file-1", "user-1")
	if err := store.Create(ctx, file); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "file-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OriginalName != "report.pdf" || got.UserID != "user-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Status != models.FileStatusStored {
		t.Errorf("status mismatch: got %q", got.Status)
	}
}

func TestFileStore_Update(t *testing.T) {
	store := NewFileStore(testDB(t), testLogger())
	ctx := context.Background()

	file := testFile("file-1", "user-1")
	if err := store.Create(ctx, file); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	file.Status = models.FileStatusProcessed
	file.Version = 2
	if err := store.Update(ctx, file); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, "file-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.FileStatusProcessed || got.Version != 2 {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestFileStore_Delete(t *testing.T) {
	store := NewFileStore(testDB(t), testLogger())
	ctx := context.Background()

	if err := store.Create(ctx, testFile("file-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Delete(ctx, "file-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "file-1"); err == nil {
		t.Error("expected error getting deleted file")
	}
}

func TestFileStore_ListByUser(t *testing.T) {
	store := NewFileStore(testDB(t), testLogger())
	ctx := context.Background()

	for i, id := range []string{"f-old", "f-mid", "f-new"} {
		file := testFile(id, "user-1")
		file.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, file); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	if err := store.Create(ctx, testFile("f-other", "user-2")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	files, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	if files[0].ID != "f-new" {
		t.Errorf("expected newest first, got %s", files[0].ID)
	}
}

func TestFileStore_Versions(t *testing.T) {
	store := NewFileStore(testDB(t), testLogger())
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		err := store.AddVersion(ctx, &models.FileVersion{
			FileID:      "file-1",
			Version:     v,
			PublicID:    "objects/file-1",
			Size:        int64(v * 100),
			ContentHash: "hash",
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AddVersion %d failed: %v", v, err)
		}
	}

	versions, err := store.ListVersions(ctx, "file-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].Version != 3 || versions[2].Version != 1 {
		t.Errorf("expected newest version first: %+v", versions)
	}
}

func TestFileStore_DeleteRemovesVersions(t *testing.T) {
	store := NewFileStore(testDB(t), testLogger())
	ctx := context.Background()

	if err := store.Create(ctx, testFile("file-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.AddVersion(ctx, &models.FileVersion{FileID: "file-1", Version: 1}); err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}

	if err := store.Delete(ctx, "file-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	versions, err := store.ListVersions(ctx, "file-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("expected versions removed with file, got %d", len(versions))
	}
}
