package stock

import "strings"

// Keyword lexicon for headline sentiment. Scores are summed over matched
// terms, then squashed into [-1, 1].
var sentimentLexicon = map[string]float64{
	"beat": 0.4, "beats": 0.4, "surge": 0.5, "surges": 0.5, "rally": 0.4,
	"rallies": 0.4, "record": 0.3, "upgrade": 0.4, "upgraded": 0.4,
	"growth": 0.3, "profit": 0.3, "profits": 0.3, "strong": 0.3,
	"bullish": 0.5, "gain": 0.3, "gains": 0.3, "soar": 0.5, "soars": 0.5,
	"outperform": 0.4,

	"miss": -0.4, "misses": -0.4, "plunge": -0.5, "plunges": -0.5,
	"fall": -0.3, "falls": -0.3, "drop": -0.3, "drops": -0.3,
	"downgrade": -0.4, "downgraded": -0.4, "loss": -0.3, "losses": -0.3,
	"weak": -0.3, "bearish": -0.5, "lawsuit": -0.4, "recall": -0.4,
	"layoffs": -0.4, "bankruptcy": -0.8, "fraud": -0.7, "probe": -0.4,
	"investigation": -0.4, "crash": -0.6, "crashes": -0.6,
	"underperform": -0.4, "warns": -0.3, "warning": -0.3,
}

// ScoreSentiment scores text by keyword lexicon, returning a value in
// [-1, 1]. Text with no lexicon hits scores 0 (neutral).
func ScoreSentiment(text string) float64 {
	var total float64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,:;!?'\"()[]")
		if score, ok := sentimentLexicon[word]; ok {
			total += score
		}
	}
	if total > 1 {
		return 1
	}
	if total < -1 {
		return -1
	}
	return total
}
