package local

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aescanero/agentgraph/pkg/domain"
)

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	wordPattern   = regexp.MustCompile(`\b\w+\b`)
	spaceRun      = regexp.MustCompile(`\s+`)
	specialChars  = regexp.MustCompile(`[^\w\s.,!?\-']`)

	stopWords = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "in": true,
		"on": true, "at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	}
	positiveWords = map[string]bool{
		"good": true, "great": true, "excellent": true, "amazing": true, "wonderful": true,
		"happy": true, "love": true, "like": true, "best": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "terrible": true, "awful": true, "horrible": true, "sad": true,
		"hate": true, "dislike": true, "worst": true,
	}
)

// TextProcessor analyses and transforms text
type TextProcessor struct{}

// NewTextProcessor creates the text_processor tool
func NewTextProcessor() *TextProcessor { return &TextProcessor{} }

func (t *TextProcessor) Name() string { return "text_processor" }

func (t *TextProcessor) Description() string {
	return "Processes and analyzes text: analyze, summarize, extract_keywords, sentiment, translate, clean"
}

// Execute dispatches on the "operation" parameter
func (t *TextProcessor) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	operation := stringParam(params, "operation", "")
	text, _ := params["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, domain.Fatal("text_processor: text is required")
	}
	language := stringParam(params, "language", "en")
	withMeta := boolParam(params, "include_metadata", true)

	var result map[string]interface{}
	switch operation {
	case "analyze":
		result = analyzeText(text)
	case "summarize":
		result = summarizeText(text, intParam(params, "max_length", 1000))
	case "extract_keywords":
		result = extractKeywords(text)
	case "sentiment":
		result = sentiment(text)
	case "translate":
		result = map[string]interface{}{
			"original_text":   text,
			"translated_text": "[TRANSLATED TO " + strings.ToUpper(language) + "] " + text,
			"target_language": language,
		}
	case "clean":
		result = cleanText(text)
	default:
		return nil, domain.Fatal("text_processor: unsupported operation %q", operation)
	}

	if withMeta {
		result["metadata"] = map[string]interface{}{"language": language}
	}
	return map[string]interface{}{
		"operation":    operation,
		"result":       result,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func analyzeText(text string) map[string]interface{} {
	words := strings.Fields(text)
	var sentences int
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}

	var letters int
	for _, w := range words {
		letters += len(w)
	}
	var avgWord, avgSentence float64
	if len(words) > 0 {
		avgWord = float64(letters) / float64(len(words))
	}
	if sentences > 0 {
		avgSentence = float64(len(words)) / float64(sentences)
	}

	return map[string]interface{}{
		"statistics": map[string]interface{}{
			"characters":          len(text),
			"words":               len(words),
			"sentences":           sentences,
			"avg_word_length":     round(avgWord, 2),
			"avg_sentence_length": round(avgSentence, 2),
		},
	}
}

func summarizeText(text string, maxLength int) map[string]interface{} {
	words := strings.Fields(text)
	summary := text
	summaryWords := len(words)
	if maxLength > 0 && len(words) > maxLength {
		summary = strings.Join(words[:maxLength], " ") + "..."
		summaryWords = maxLength
	}
	return map[string]interface{}{
		"summary":         summary,
		"original_length": len(words),
		"summary_length":  summaryWords,
	}
}

type keyword struct {
	Word      string `json:"word"`
	Frequency int    `json:"frequency"`
}

func extractKeywords(text string) map[string]interface{} {
	freq := make(map[string]int)
	var order []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] || len(w) <= 2 {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	// stable so equal frequencies keep first-seen order
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > 10 {
		order = order[:10]
	}

	keywords := make([]keyword, len(order))
	for i, w := range order {
		keywords[i] = keyword{Word: w, Frequency: freq[w]}
	}
	return map[string]interface{}{
		"keywords":       keywords,
		"total_keywords": len(keywords),
	}
}

func sentiment(text string) map[string]interface{} {
	words := strings.Fields(strings.ToLower(text))
	var pos, neg int
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}

	var score float64
	if len(words) > 0 {
		score = float64(pos-neg) / float64(len(words))
	}
	label := "neutral"
	switch {
	case score > 0.1:
		label = "positive"
	case score < -0.1:
		label = "negative"
	}

	return map[string]interface{}{
		"sentiment":       label,
		"sentiment_score": round(score, 3),
		"positive_words":  pos,
		"negative_words":  neg,
	}
}

func cleanText(text string) map[string]interface{} {
	cleaned := spaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	cleaned = specialChars.ReplaceAllString(cleaned, "")
	return map[string]interface{}{
		"cleaned_text":       cleaned,
		"original_length":    len(text),
		"cleaned_length":     len(cleaned),
		"characters_removed": len(text) - len(cleaned),
	}
}
