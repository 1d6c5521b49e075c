// Package sentiment assigns a coarse polarity to opinion content during
// ingestion.
package sentiment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/logging"
)

var fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tally_sentiment_fallbacks_total",
	Help: "Classifications that fell back to neutral",
}, []string{"reason"})

// Classifier labels content.
type Classifier interface {
	Classify(ctx context.Context, content string) (opinion.Sentiment, error)
}

// Bounded wraps a classifier with a short deadline. Any error or timeout
// yields neutral, so Classify never fails.
type Bounded struct {
	inner   Classifier
	timeout time.Duration
	logger  *slog.Logger
}

// NewBounded creates a bounded classifier.
func NewBounded(inner Classifier, timeout time.Duration, logger *slog.Logger) *Bounded {
	return &Bounded{
		inner:   inner,
		timeout: timeout,
		logger:  logging.Component(logger, "sentiment"),
	}
}

// Classify implements Classifier.
func (b *Bounded) Classify(ctx context.Context, content string) (opinion.Sentiment, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		s   opinion.Sentiment
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := b.inner.Classify(ctx, content)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			reason := "error"
			if errors.Is(r.err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			fallbacksTotal.WithLabelValues(reason).Inc()
			b.logger.Debug("sentiment fell back to neutral", "reason", reason, "error", r.err)
			return opinion.SentimentNeutral, nil
		}
		return r.s, nil
	case <-ctx.Done():
		fallbacksTotal.WithLabelValues("timeout").Inc()
		b.logger.Debug("sentiment fell back to neutral", "reason", "timeout", "timeout", b.timeout)
		return opinion.SentimentNeutral, nil
	}
}

// Lexicon scores content against small word lists. It is the offline
// classifier and the fallback when no API key is configured.
type Lexicon struct{}

var (
	positiveWords = wordSet("good great love excellent awesome amazing helpful like happy fast easy nice perfect thanks useful")
	negativeWords = wordSet("bad terrible hate awful broken slow bug crash confusing poor annoying worst useless hard fail")
)

func wordSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// Classify implements Classifier.
func (Lexicon) Classify(ctx context.Context, content string) (opinion.Sentiment, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	score := 0
	for _, w := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if _, ok := positiveWords[w]; ok {
			score++
		}
		if _, ok := negativeWords[w]; ok {
			score--
		}
	}
	switch {
	case score > 0:
		return opinion.SentimentPositive, nil
	case score < 0:
		return opinion.SentimentNegative, nil
	default:
		return opinion.SentimentNeutral, nil
	}
}

// Parse maps a model reply onto a sentiment label.
func Parse(reply string) (opinion.Sentiment, bool) {
	reply = strings.ToLower(strings.TrimSpace(reply))
	for _, s := range []opinion.Sentiment{opinion.SentimentPositive, opinion.SentimentNegative, opinion.SentimentNeutral} {
		if strings.HasPrefix(reply, string(s)) {
			return s, true
		}
	}
	return "", false
}
