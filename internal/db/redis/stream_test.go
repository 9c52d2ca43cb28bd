package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"
)

func TestXAdd_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match(
			"XADD", "imgdex:analytics", "MAXLEN", "~", "1000", "*",
			"mode", "text", "team_id", "t1",
		)).
		Return(mock.Result(mock.RedisString("1700000000000-0")))

	s := NewStoreForTest(c)
	id, err := s.XAdd(context.Background(), "imgdex:analytics", 1000, map[string]string{
		"team_id": "t1",
		"mode":    "text",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "1700000000000-0" {
		t.Errorf("id = %q", id)
	}
}

func TestXAdd_NoFields(t *testing.T) {
	s := NewStoreForTest(nil)
	if _, err := s.XAdd(context.Background(), "s", 0, nil); err == nil {
		t.Error("expected error for empty fields")
	}
}

func TestXAdd_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().Do(gomock.Any(), gomock.Any()).Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	if _, err := s.XAdd(context.Background(), "s", 0, map[string]string{"a": "b"}); !isDBError(err) {
		t.Errorf("expected db.Error, got %v", err)
	}
}

func TestXRead_Entries(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREAD", "COUNT", "10", "STREAMS", "imgdex:changes", "5-0")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisArray(
				mock.RedisString("imgdex:changes"),
				mock.RedisArray(
					mock.RedisArray(
						mock.RedisString("6-0"),
						mock.RedisArray(
							mock.RedisString("image_id"), mock.RedisString("img-1"),
							mock.RedisString("kind"), mock.RedisString("created"),
						),
					),
				),
			),
		)))

	s := NewStoreForTest(c)
	entries, err := s.XRead(context.Background(), "imgdex:changes", "5-0", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID != "6-0" || entries[0].Fields["image_id"] != "img-1" || entries[0].Fields["kind"] != "created" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestXRead_TimeoutIsEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("XREAD", "COUNT", "1", "BLOCK", "250", "STREAMS", "s", "0")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c)
	entries, err := s.XRead(context.Background(), "s", "", 0, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
}
