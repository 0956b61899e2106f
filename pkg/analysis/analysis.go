// Package analysis runs the post-session pipeline: learning extraction
// over the recent conversation, knowledge merging, and proactive
// reminder suggestions. It also handles out-of-session knowledge
// ingestion from raw text and web pages.
package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmonteiro/james/pkg/core"
	"github.com/lmonteiro/james/pkg/knowledge"
	"github.com/lmonteiro/james/pkg/profile"
	"github.com/lmonteiro/james/pkg/transcript"
)

// historyWindow is how many recent exchanged messages feed the learning
// stage.
const historyWindow = 6

// maxPageBytes caps how much of a fetched page is handed to extraction.
const maxPageBytes = 256 << 10

// ReminderSuggestion is one proactive follow-up proposed for a
// knowledge item that has no reminder armed yet.
type ReminderSuggestion struct {
	ItemID string
	Text   string
}

// Extractor performs the model-backed structured extraction calls.
type Extractor interface {
	ExtractKnowledge(ctx context.Context, transcript string) (knowledge.Base, error)
	SuggestReminders(ctx context.Context, items []knowledge.Item) ([]ReminderSuggestion, error)
}

// History exposes the conversation log to the pipeline. Satisfied by
// *transcript.Log.
type History interface {
	Messages() []transcript.Message
}

// Pipeline owns the post-session analysis. One pipeline instance serves
// the whole app; Run is invoked by the session engine after teardown.
type Pipeline struct {
	history  History
	sink     transcript.Sink
	profiles profile.Provider
	extract  Extractor
	logger   *slog.Logger
	client   *http.Client
}

// NewPipeline wires the pipeline.
func NewPipeline(history History, sink transcript.Sink, profiles profile.Provider, extract Extractor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		history:  history,
		sink:     sink,
		profiles: profiles,
		extract:  extract,
		logger:   logger,
		client:   http.DefaultClient,
	}
}

// Run executes both stages. The learning stage mines the recent
// conversation for durable facts and merges them into the knowledge
// base; the reminder stage then proposes follow-ups for unarmed goal
// and professional items, including ones that existed before this
// session. Every failure is logged and reported, never propagated, so
// a bad extraction cannot wedge the session engine.
func (p *Pipeline) Run(ctx context.Context) {
	p.runLearning(ctx)
	p.runReminders(ctx)
}

func (p *Pipeline) runLearning(ctx context.Context) {
	window := p.recentWindow()
	if len(window) == 0 {
		return
	}

	extracted, err := p.extract.ExtractKnowledge(ctx, renderTranscript(window))
	if err != nil {
		p.logger.Error("knowledge extraction failed", "error", err)
		return
	}
	if extracted.Count() == 0 {
		return
	}
	p.mergeAndReport(ctx, extracted)
}

func (p *Pipeline) runReminders(ctx context.Context) {
	prof, err := p.profiles.Current(ctx)
	if err != nil {
		p.logger.Error("loading profile for reminder stage failed", "error", err)
		return
	}

	candidates := prof.Knowledge.Unarmed(knowledge.CategoryGoals, knowledge.CategoryProfessional)
	if len(candidates) == 0 {
		return
	}

	suggestions, err := p.extract.SuggestReminders(ctx, candidates)
	if err != nil {
		p.logger.Error("reminder suggestion failed", "error", err)
		return
	}

	valid := make(map[string]bool, len(candidates))
	for _, item := range candidates {
		valid[item.ID] = true
	}
	for _, s := range suggestions {
		if s.Text == "" || !valid[s.ItemID] {
			continue
		}
		p.sink.Append(transcript.New(transcript.RoleSystem, s.Text,
			transcript.Action{Kind: transcript.ActionAcceptReminder, Label: "Yes, remind me", ItemID: s.ItemID},
			transcript.Action{Kind: transcript.ActionDeclineReminder, Label: "No, thanks", ItemID: s.ItemID},
		))
	}
}

// HandleReminderAction resolves an accept or decline on a suggestion
// message. The interactive message is withdrawn either way; accepting
// additionally arms the reminder flag on the knowledge item so the item
// is never proposed again. Declining leaves the flag clear, so the item
// may be proposed again after a later session.
func (p *Pipeline) HandleReminderAction(ctx context.Context, messageID, itemID string, accepted bool) error {
	p.sink.Remove(messageID)
	if !accepted {
		return nil
	}

	prof, err := p.profiles.Current(ctx)
	if err != nil {
		return err
	}
	armed, ok := prof.Knowledge.ArmReminder(itemID)
	if !ok {
		p.logger.Warn("reminder accepted for unknown item", "itemId", itemID)
		return nil
	}
	prof.Knowledge = armed
	if err := p.profiles.Save(ctx, prof); err != nil {
		return err
	}
	p.sink.Append(transcript.New(transcript.RoleSystem, "Reminder set. I'll keep it on your radar."))
	return nil
}

// IngestText extracts knowledge from free-form notes pasted by the user
// and merges it into the base.
func (p *Pipeline) IngestText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	extracted, err := p.extract.ExtractKnowledge(ctx, "The user shared the following notes:\n\n"+text)
	if err != nil {
		return err
	}
	if extracted.Count() == 0 {
		p.sink.Append(transcript.New(transcript.RoleSystem, "I read your notes but found nothing new to remember."))
		return nil
	}
	p.mergeAndReport(ctx, extracted)
	return nil
}

// IngestURL fetches a web page and runs knowledge extraction over its
// contents.
func (p *Pipeline) IngestURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.NewExtractionError("building page request failed", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return core.NewExtractionError("fetching page failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.NewExtractionError(fmt.Sprintf("page returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return core.NewExtractionError("reading page failed", err)
	}
	return p.IngestText(ctx, fmt.Sprintf("Content fetched from %s:\n\n%s", url, body))
}

// AddManual inserts a user-authored knowledge item directly, bypassing
// extraction.
func (p *Pipeline) AddManual(ctx context.Context, cat knowledge.Category, title, content string) error {
	prof, err := p.profiles.Current(ctx)
	if err != nil {
		return err
	}
	incoming := knowledge.Base{cat: {{Title: title, Content: content}}}
	merged := knowledge.Merge(prof.Knowledge, incoming)
	if merged.Count() == prof.Knowledge.Count() {
		return core.NewExtractionError("an item with that title already exists", nil)
	}
	prof.Knowledge = merged
	return p.profiles.Save(ctx, prof)
}

func (p *Pipeline) mergeAndReport(ctx context.Context, extracted knowledge.Base) {
	prof, err := p.profiles.Current(ctx)
	if err != nil {
		p.logger.Error("loading profile for merge failed", "error", err)
		return
	}
	merged := knowledge.Merge(prof.Knowledge, extracted)
	added := merged.Count() - prof.Knowledge.Count()
	if added == 0 {
		return
	}
	prof.Knowledge = merged
	if err := p.profiles.Save(ctx, prof); err != nil {
		p.logger.Error("saving merged knowledge failed", "error", err)
		return
	}

	noun := "things"
	if added == 1 {
		noun = "thing"
	}
	p.sink.Append(transcript.New(transcript.RoleSystem,
		fmt.Sprintf("I learned %d new %s about you and updated your knowledge base.", added, noun)))
	p.logger.Info("knowledge base updated", "added", added)
}

// recentWindow returns the last exchanged user and assistant messages,
// oldest first, skipping system notices and empty content.
func (p *Pipeline) recentWindow() []transcript.Message {
	msgs := p.history.Messages()
	window := make([]transcript.Message, 0, historyWindow)
	for i := len(msgs) - 1; i >= 0 && len(window) < historyWindow; i-- {
		m := msgs[i]
		if m.Role == transcript.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		window = append(window, m)
	}
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

func renderTranscript(msgs []transcript.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		label := "User"
		if m.Role == transcript.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return b.String()
}
