package corpus

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

func TestRecord_Parses(t *testing.T) {
	ms := newMockStore()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ms.hashes["imgdex:image:img-1"] = Fields(image.Record{TeamID: "t1", Tags: []string{"outdoor", "cat"}, CreatedAt: created})
	r := New(ms, nil)

	rec, err := r.Record(context.Background(), "img-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "img-1" || rec.TeamID != "t1" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !slices.Equal(rec.Tags, []string{"cat", "outdoor"}) {
		t.Errorf("tags = %v", rec.Tags)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v", rec.CreatedAt)
	}
}

func TestRecord_NoTags(t *testing.T) {
	ms := newMockStore()
	ms.hashes[RecordKey("x")] = map[string]string{"team_id": "t1", "tags": ""}

	rec, err := New(ms, nil).Record(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Tags) != 0 {
		t.Errorf("expected no tags, got %v", rec.Tags)
	}
}

func TestRecord_Missing(t *testing.T) {
	_, err := New(newMockStore(), nil).Record(context.Background(), "x")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecord_Invalid(t *testing.T) {
	ms := newMockStore()
	ms.hashes[RecordKey("no-team")] = map[string]string{"tags": "a"}
	ms.hashes[RecordKey("bad-date")] = map[string]string{"team_id": "t1", "created_at": "yesterday"}
	r := New(ms, nil)

	for _, id := range []string{"no-team", "bad-date"} {
		if _, err := r.Record(context.Background(), id); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", id, err)
		}
	}
}

func TestRecord_StoreError(t *testing.T) {
	ms := newMockStore()
	ms.err = errors.New("connection refused")

	_, err := New(ms, nil).Record(context.Background(), "x")
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestBytes_FromStore(t *testing.T) {
	ms := newMockStore()
	ms.values["imgdex:image_bytes:x"] = []byte("raw")
	r := New(ms, nil)

	got, err := r.Bytes(context.Background(), "x")
	if err != nil || string(got) != "raw" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := r.Bytes(context.Background(), "y"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBytes_ExternalSource(t *testing.T) {
	ms := newMockStore()
	ms.values[BytesKey("x")] = []byte("redis")
	r := New(ms, &mockBytes{data: map[string][]byte{"x": []byte("s3")}})

	got, err := r.Bytes(context.Background(), "x")
	if err != nil || string(got) != "s3" {
		t.Fatalf("expected bytes from the external source, got %q, %v", got, err)
	}
}

func TestIDs(t *testing.T) {
	ms := newMockStore()
	ms.hashes[RecordKey("b")] = map[string]string{"team_id": "t1"}
	ms.hashes[RecordKey("a")] = map[string]string{"team_id": "t1"}
	ms.hashes["imgdex:vec:clip:a"] = map[string]string{"team_id": "t1"}

	ids, err := New(ms, nil).IDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("ids = %v", ids)
	}
}

func TestIDs_StoreError(t *testing.T) {
	ms := newMockStore()
	ms.err = errors.New("connection refused")

	if _, err := New(ms, nil).IDs(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
