package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loksaikotini/EduCast/internal/models"
	"github.com/redis/go-redis/v9"
)

func newTestRepo(t *testing.T, historyCap int) *RedisClassroomRepo {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisClassroomRepo(rdb, historyCap)
}

func TestClassroomRoundTrip(t *testing.T) {
	ctx := context.Background()
	rr := newTestRepo(t, 0)

	if _, ok, err := rr.GetClassroom(ctx, "MATH1"); err != nil || ok {
		t.Fatalf("missing classroom: ok=%v err=%v", ok, err)
	}

	in := models.Classroom{Code: "MATH1", Name: "Algebra", TeacherID: "t1", StudentIDs: []string{"s1", "s2"}}
	if err := rr.SaveClassroom(ctx, in); err != nil {
		t.Fatalf("SaveClassroom: %v", err)
	}
	got, ok, err := rr.GetClassroom(ctx, "MATH1")
	if err != nil || !ok {
		t.Fatalf("GetClassroom: ok=%v err=%v", ok, err)
	}
	if got.Name != "Algebra" || !got.HasMember("s2") || !got.HasMember("t1") || got.HasMember("x") {
		t.Fatalf("classroom = %+v", got)
	}

	if err := rr.SaveClassroom(ctx, models.Classroom{}); err != ErrInvalidClassroom {
		t.Fatalf("empty code err = %v", err)
	}
}

func TestChatHistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	rr := newTestRepo(t, 3)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := range 5 {
		msg := models.ChatMessage{
			ID:            fmt.Sprintf("m%d", i),
			ClassroomCode: "MATH1",
			SenderID:      "s1",
			SenderName:    "Sam",
			Text:          fmt.Sprintf("hello %d", i),
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := rr.AppendChatMessage(ctx, msg); err != nil {
			t.Fatalf("AppendChatMessage: %v", err)
		}
	}

	all, err := rr.ListChatMessages(ctx, "MATH1", 0)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(all) != 3 || all[0].ID != "m2" || all[2].ID != "m4" {
		t.Fatalf("history = %+v, want m2..m4", all)
	}
	if !all[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("timestamp = %v", all[0].Timestamp)
	}

	last, err := rr.ListChatMessages(ctx, "MATH1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].ID != "m4" {
		t.Fatalf("last = %+v", last)
	}

	empty, err := rr.ListChatMessages(ctx, "NONE", 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty history = %v, %v", empty, err)
	}
}
