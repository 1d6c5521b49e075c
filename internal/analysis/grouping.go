package analysis

import (
	"context"
	"fmt"

	"github.com/rpggio/tally/internal/domain/opinion"
)

// SentimentEngine groups opinions by sentiment. It needs no model and is
// used when no OpenAI key is configured.
type SentimentEngine struct{}

var sentimentTopics = []struct {
	sentiment opinion.Sentiment
	name      string
	summary   string
}{
	{opinion.SentimentNegative, "Complaints", "Opinions with negative sentiment"},
	{opinion.SentimentPositive, "Praise", "Opinions with positive sentiment"},
	{opinion.SentimentNeutral, "General feedback", "Opinions with neutral sentiment"},
}

// Analyze implements Engine.
func (SentimentEngine) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups := make(map[opinion.Sentiment][]string)
	for _, o := range in.Opinions {
		groups[o.Sentiment] = append(groups[o.Sentiment], o.ID)
	}

	result := &Result{}
	for _, st := range sentimentTopics {
		ids := groups[st.sentiment]
		if len(ids) == 0 {
			continue
		}
		result.Topics = append(result.Topics, TopicResult{
			Name:       st.name,
			Summary:    st.summary,
			OpinionIDs: ids,
			Confidence: 0.6,
		})
		result.Insights = append(result.Insights, fmt.Sprintf("%d of %d opinions are %s", len(ids), len(in.Opinions), st.sentiment))
	}
	return result, nil
}
