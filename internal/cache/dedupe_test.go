package cache

import (
	"reflect"
	"testing"
	"time"

	"github.com/haasonsaas/stockd/pkg/models"
)

func TestHeadlineHash_CaseAndWhitespaceInsensitive(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"Apple Beats Earnings", "apple beats earnings"},
		{"Apple  Beats\tEarnings", "Apple Beats Earnings"},
		{"  Apple Beats Earnings  ", "Apple Beats Earnings"},
		{"Apple Beats Earnings!", "Apple beats earnings"},
	}
	for _, tt := range tests {
		if HeadlineHash(tt.a) != HeadlineHash(tt.b) {
			t.Errorf("expected %q and %q to collide", tt.a, tt.b)
		}
	}

	if HeadlineHash("Apple Beats Earnings") == HeadlineHash("Apple Misses Earnings") {
		t.Error("distinct headlines must not collide")
	}
}

func TestDedupeArticles_KeepsNewest(t *testing.T) {
	older := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	articles := []models.NewsArticle{
		{Headline: "Apple Beats Earnings", Source: "old-wire", PublishedAt: older},
		{Headline: "Fed Holds Rates", PublishedAt: older},
		{Headline: "APPLE BEATS EARNINGS", Source: "new-wire", PublishedAt: newer},
	}

	got := DedupeArticles(articles)
	if len(got) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(got))
	}
	if got[0].Source != "new-wire" {
		t.Errorf("expected the newer duplicate to win, got %+v", got[0])
	}
	if got[1].Headline != "Fed Holds Rates" {
		t.Errorf("unexpected ordering: %+v", got)
	}
}

func TestDedupeArticles_Idempotent(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	articles := []models.NewsArticle{
		{Headline: "A", PublishedAt: now},
		{Headline: "a", PublishedAt: now.Add(time.Hour)},
		{Headline: "B", PublishedAt: now},
		{Headline: "C", PublishedAt: now},
		{Headline: " b ", PublishedAt: now.Add(-time.Hour)},
	}

	once := DedupeArticles(articles)
	twice := DedupeArticles(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("dedupe is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestDedupeArticles_EmptyAndSingle(t *testing.T) {
	if got := DedupeArticles(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
	one := []models.NewsArticle{{Headline: "Solo"}}
	if got := DedupeArticles(one); len(got) != 1 {
		t.Errorf("expected single result, got %v", got)
	}
}
