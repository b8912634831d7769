package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestRepo_RecordUsageIsIdempotent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	ev := Event{
		ID:             "01JTESTUSAGEEVENT000000001",
		Provider:       "openai",
		Model:          "gpt-4o",
		ConversationID: "conv-1",
		TokensUsed:     42,
		OccurredAt:     time.Now().UTC(),
	}
	for i := 0; i < 2; i++ {
		if err := repo.RecordUsage(ctx, ev); err != nil {
			t.Fatalf("record usage (attempt %d): %v", i, err)
		}
	}

	recs, err := repo.ListByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after redelivery, got %d", len(recs))
	}
	if recs[0].TokensUsed != 42 || recs[0].Model != "gpt-4o" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestRepo_TotalTokens(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	events := []Event{
		{ID: "01JTESTUSAGEEVENT000000001", Provider: "openai", Model: "gpt-4o", TokensUsed: 10},
		{ID: "01JTESTUSAGEEVENT000000002", Provider: "openai", Model: "gpt-4o", TokensUsed: 5},
		{ID: "01JTESTUSAGEEVENT000000003", Provider: "githubmodels", Model: "openai/gpt-4.1-nano", TokensUsed: 7},
	}
	for _, ev := range events {
		if err := repo.RecordUsage(ctx, ev); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	total, err := repo.TotalTokens(ctx, "openai")
	if err != nil {
		t.Fatalf("total tokens: %v", err)
	}
	if total != 15 {
		t.Fatalf("expected 15 tokens, got %d", total)
	}

	total, err = repo.TotalTokens(ctx, "unknown")
	if err != nil {
		t.Fatalf("total tokens: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 tokens, got %d", total)
	}
}
