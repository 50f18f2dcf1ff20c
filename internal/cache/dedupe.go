package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/haasonsaas/stockd/pkg/models"
)

// HeadlineHash returns the dedupe key for a news headline: lowercased,
// punctuation stripped, whitespace collapsed, then hashed.
func HeadlineHash(headline string) string {
	normalized := normalizeHeadline(headline)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeHeadline(headline string) string {
	var b strings.Builder
	b.Grow(len(headline))

	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(headline)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// DedupeArticles collapses articles that share a normalized headline, keeping
// the most recently published of each pair in the position where the headline
// first appeared. The operation is idempotent.
func DedupeArticles(articles []models.NewsArticle) []models.NewsArticle {
	if len(articles) <= 1 {
		return articles
	}

	kept := make([]models.NewsArticle, 0, len(articles))
	index := make(map[string]int, len(articles))

	for _, article := range articles {
		hash := HeadlineHash(article.Headline)
		if at, seen := index[hash]; seen {
			// Collision: the older entry is dropped.
			if article.PublishedAt.After(kept[at].PublishedAt) {
				kept[at] = article
			}
			continue
		}
		index[hash] = len(kept)
		kept = append(kept, article)
	}
	return kept
}
