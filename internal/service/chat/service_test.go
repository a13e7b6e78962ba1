package chat_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/zhouzirui/nova/internal/model/task"
	chat "github.com/zhouzirui/nova/internal/service/chat"
)

func TestServiceRecentFiltersByService(t *testing.T) {
	svc := chat.NewService(0)
	ctx := context.Background()

	for _, turn := range []task.Turn{
		{Service: "qa", Query: "q1", Answer: "a1"},
		{Service: "sales", Query: "q2", Answer: "a2"},
		{Service: "qa", Query: "q3", Answer: "a3"},
	} {
		if err := svc.Record(ctx, "ada", turn); err != nil {
			t.Fatalf("Record err: %v", err)
		}
	}

	got := svc.Recent(ctx, "ada", "qa", 0)
	if len(got) != 2 {
		t.Fatalf("unexpected turn count: got %d want 2", len(got))
	}
	if got[0].Query != "q1" || got[1].Query != "q3" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].AskedAt.IsZero() {
		t.Fatal("expected AskedAt to be stamped")
	}

	if all := svc.Recent(ctx, "ada", "", 1); len(all) != 1 || all[0].Query != "q3" {
		t.Fatalf("unexpected limited history: %+v", all)
	}
}

func TestServiceCapsHistory(t *testing.T) {
	svc := chat.NewService(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := svc.Record(ctx, "ada", task.Turn{Query: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("Record err: %v", err)
		}
	}

	got := svc.Recent(ctx, "ada", "", 0)
	if len(got) != 3 || got[0].Query != "q2" {
		t.Fatalf("unexpected capped history: %+v", got)
	}

	svc.Forget(ctx, "ada")
	if got := svc.Recent(ctx, "ada", "", 0); len(got) != 0 {
		t.Fatalf("expected empty history after Forget, got %d", len(got))
	}
}

func TestServiceRequiresUser(t *testing.T) {
	svc := chat.NewService(0)
	if err := svc.Record(context.Background(), "", task.Turn{}); err != chat.ErrUserRequired {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
}
