// Package condense is the built-in heuristic condenser: it groups a
// conversation's events into inactivity-gap-bounded episodes and compresses
// pending episodes into extractive summaries. A model-backed condenser can
// replace it behind the same interface.
package condense

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kloros/memoryd/pkg/model"
	"github.com/kloros/memoryd/pkg/store"
)

const modelName = "heuristic-v1"

// Engine implements model.Condenser against the storage engine.
type Engine struct {
	store  store.Store
	gap    time.Duration
	logger *slog.Logger
}

// New builds a condenser. gap is the inactivity split between episodes.
func New(s store.Store, gap time.Duration, logger *slog.Logger) *Engine {
	if gap <= 0 {
		gap = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, gap: gap, logger: logger}
}

// GroupEventsIntoEpisodes groups the conversation's events newer than its
// latest episode into new episodes, splitting where the gap between
// consecutive events exceeds the configured inactivity window.
func (e *Engine) GroupEventsIntoEpisodes(ctx context.Context, conversationID string) ([]model.Episode, error) {
	var after *time.Time
	existing, err := e.store.GetEpisodes(ctx, model.EpisodeQuery{Limit: 1, ConversationID: &conversationID})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		t := existing[0].EndTime
		after = &t
	}

	events, err := e.store.GetEvents(ctx, model.EventQuery{
		Limit:          1000,
		ConversationID: &conversationID,
		StartTime:      after,
	})
	if err != nil {
		return nil, err
	}
	// newest-first from the store; grouping wants chronological order
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	if after != nil {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Timestamp.After(*after) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if len(events) == 0 {
		return nil, nil
	}

	var episodes []model.Episode
	chunk := []model.Event{events[0]}
	for _, ev := range events[1:] {
		if ev.Timestamp.Sub(chunk[len(chunk)-1].Timestamp) > e.gap {
			episodes = append(episodes, buildEpisode(conversationID, chunk))
			chunk = nil
		}
		chunk = append(chunk, ev)
	}
	episodes = append(episodes, buildEpisode(conversationID, chunk))

	for i := range episodes {
		id, err := e.store.StoreEpisode(ctx, episodes[i])
		if err != nil {
			return nil, fmt.Errorf("store episode: %w", err)
		}
		episodes[i].ID = id
	}
	e.logger.Debug("grouped events into episodes", "conversation", conversationID, "events", len(events), "episodes", len(episodes))
	return episodes, nil
}

// ProcessUncondensedEpisodes first groups any unassigned events across all
// conversations, then condenses up to maxN pending episodes. An episode is
// marked condensed only after its summary row is durably stored.
func (e *Engine) ProcessUncondensedEpisodes(ctx context.Context, maxN int) (int, error) {
	if maxN <= 0 {
		maxN = 100
	}

	conversations, err := e.store.ConversationIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, cid := range conversations {
		if _, err := e.GroupEventsIntoEpisodes(ctx, cid); err != nil {
			return 0, fmt.Errorf("group conversation %s: %w", cid, err)
		}
	}

	uncondensed := false
	pending, err := e.store.GetEpisodes(ctx, model.EpisodeQuery{Limit: maxN, IsCondensed: &uncondensed})
	if err != nil {
		return 0, err
	}

	condensed := 0
	for _, ep := range pending {
		if err := e.condenseEpisode(ctx, ep); err != nil {
			return condensed, fmt.Errorf("condense episode %d: %w", ep.ID, err)
		}
		condensed++
	}
	return condensed, nil
}

func (e *Engine) condenseEpisode(ctx context.Context, ep model.Episode) error {
	// millisecond slack absorbs REAL-seconds rounding at the boundaries
	start := ep.StartTime.Add(-time.Millisecond)
	end := ep.EndTime.Add(time.Millisecond)
	events, err := e.store.GetEvents(ctx, model.EventQuery{
		Limit:          1000,
		ConversationID: &ep.ConversationID,
		StartTime:      &start,
		EndTime:        &end,
	})
	if err != nil {
		return err
	}

	summary := summarize(ep, events)
	if _, err := e.store.StoreSummary(ctx, summary); err != nil {
		return err
	}
	return e.store.MarkEpisodeCondensed(ctx, ep.ID)
}

func buildEpisode(conversationID string, events []model.Event) model.Episode {
	ep := model.Episode{
		ConversationID: conversationID,
		StartTime:      events[0].Timestamp,
		EndTime:        events[len(events)-1].Timestamp,
		EventCount:     len(events),
	}
	for _, ev := range events {
		if ev.TokenCount != nil {
			ep.TokenCount += *ev.TokenCount
		}
	}
	return ep
}

func summarize(ep model.Episode, events []model.Event) model.EpisodeSummary {
	var firstInput string
	tokens := 0
	byType := map[model.EventType]int{}
	for _, ev := range events {
		byType[ev.Type]++
		if firstInput == "" && ev.Type == model.EventUserInput {
			firstInput = snippet(ev.Content, 120)
		}
		if ev.TokenCount != nil {
			tokens += *ev.TokenCount
		}
	}

	text := fmt.Sprintf("Conversation %s: %d events between %s and %s.",
		ep.ConversationID, len(events),
		ep.StartTime.Format(time.RFC3339), ep.EndTime.Format(time.RFC3339))
	if firstInput != "" {
		text += " Opened with: " + firstInput
	}

	tone := detectTone(events)
	return model.EpisodeSummary{
		EpisodeID:       ep.ID,
		SummaryText:     text,
		KeyTopics:       keyTopics(events, 5),
		EmotionalTone:   tone,
		ImportanceScore: importance(byType, len(events)),
		CreatedAt:       time.Now(),
		ModelUsed:       modelName,
		TokenBudgetUsed: tokens,
	}
}

// importance weighs episodes by event mix: errors and self-reflections mark
// episodes worth keeping salient.
func importance(byType map[model.EventType]int, total int) float64 {
	score := 0.5
	score += 0.1 * float64(byType[model.EventErrorOccurred])
	score += 0.05 * float64(byType[model.EventSelfReflection])
	if total >= 20 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"what": true, "your": true, "about": true, "would": true, "could": true,
	"there": true, "their": true, "then": true, "them": true, "were": true,
	"when": true, "which": true, "will": true, "just": true, "like": true,
}

func keyTopics(events []model.Event, max int) []string {
	freq := map[string]int{}
	for _, ev := range events {
		if ev.Type != model.EventUserInput && ev.Type != model.EventLLMResponse {
			continue
		}
		for _, w := range strings.Fields(strings.ToLower(ev.Content)) {
			w = strings.Trim(w, ".,!?;:\"'()[]")
			if len(w) <= 3 || stopwords[w] {
				continue
			}
			freq[w]++
		}
	}

	type wc struct {
		word string
		n    int
	}
	ranked := make([]wc, 0, len(freq))
	for w, n := range freq {
		ranked = append(ranked, wc{w, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].word < ranked[j].word
	})

	topics := make([]string, 0, max)
	for _, r := range ranked {
		if len(topics) == max {
			break
		}
		topics = append(topics, r.word)
	}
	return topics
}

func detectTone(events []model.Event) *string {
	positive, negative := 0, 0
	for _, ev := range events {
		lower := strings.ToLower(ev.Content)
		for _, w := range []string{"thanks", "great", "good", "love"} {
			if strings.Contains(lower, w) {
				positive++
			}
		}
		for _, w := range []string{"error", "fail", "wrong", "problem"} {
			if strings.Contains(lower, w) {
				negative++
			}
		}
	}
	var tone string
	switch {
	case positive == 0 && negative == 0:
		return nil
	case positive >= negative:
		tone = "positive"
	default:
		tone = "negative"
	}
	return &tone
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

var _ model.Condenser = (*Engine)(nil)
