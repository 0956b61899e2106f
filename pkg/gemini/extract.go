package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lmonteiro/james/pkg/analysis"
	"github.com/lmonteiro/james/pkg/core"
	"github.com/lmonteiro/james/pkg/knowledge"
)

const extractionPrompt = `Analyze the conversation or notes below and extract durable facts about the user worth remembering long-term: personal details, professional context, and goals or aspirations. Ignore small talk, transient states, and anything about the assistant itself. Use the misc category only when nothing else fits. Return empty arrays when there is nothing to extract.

%s`

const reminderPrompt = `The user is tracking the items below. Pick at most two where a gentle proactive check-in would genuinely help, and write a short friendly one-sentence offer to be reminded about it. Address the user directly. Skip items where a reminder would feel naggy. Return an empty array if none qualify.

%s`

func knowledgeItemSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":   {Type: genai.TypeString, Description: "Short unique label for the fact"},
				"content": {Type: genai.TypeString, Description: "The fact itself, one or two sentences"},
			},
			Required: []string{"title", "content"},
		},
	}
}

func knowledgeBaseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"personal":     knowledgeItemSchema(),
			"professional": knowledgeItemSchema(),
			"goals":        knowledgeItemSchema(),
			"misc":         knowledgeItemSchema(),
		},
		Required: []string{"personal", "professional", "goals", "misc"},
	}
}

func reminderSuggestionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"suggestions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"itemId": {Type: genai.TypeString, Description: "The id of the item this offer refers to"},
						"text":   {Type: genai.TypeString, Description: "The check-in offer, addressed to the user"},
					},
					Required: []string{"itemId", "text"},
				},
			},
		},
		Required: []string{"suggestions"},
	}
}

type extractedItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type extractedBase struct {
	Personal     []extractedItem `json:"personal"`
	Professional []extractedItem `json:"professional"`
	Goals        []extractedItem `json:"goals"`
	Misc         []extractedItem `json:"misc"`
}

// ExtractKnowledge mines a transcript for durable facts. Implements
// analysis.Extractor.
func (c *Client) ExtractKnowledge(ctx context.Context, transcript string) (knowledge.Base, error) {
	raw, err := c.generateJSON(ctx, fmt.Sprintf(extractionPrompt, transcript), knowledgeBaseSchema())
	if err != nil {
		return nil, err
	}

	var out extractedBase
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, core.NewExtractionError("unparsable knowledge extraction response", err)
	}

	base := knowledge.Base{}
	for cat, items := range map[knowledge.Category][]extractedItem{
		knowledge.CategoryPersonal:     out.Personal,
		knowledge.CategoryProfessional: out.Professional,
		knowledge.CategoryGoals:        out.Goals,
		knowledge.CategoryMisc:         out.Misc,
	} {
		for _, item := range items {
			if strings.TrimSpace(item.Title) == "" {
				continue
			}
			base[cat] = append(base[cat], knowledge.Item{Title: item.Title, Content: item.Content})
		}
	}
	return base, nil
}

type suggestionEnvelope struct {
	Suggestions []struct {
		ItemID string `json:"itemId"`
		Text   string `json:"text"`
	} `json:"suggestions"`
}

// SuggestReminders proposes check-ins for unarmed items. Implements
// analysis.Extractor.
func (c *Client) SuggestReminders(ctx context.Context, items []knowledge.Item) ([]analysis.ReminderSuggestion, error) {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- id: %s\n  title: %s\n  detail: %s\n", item.ID, item.Title, item.Content)
	}

	raw, err := c.generateJSON(ctx, fmt.Sprintf(reminderPrompt, b.String()), reminderSuggestionSchema())
	if err != nil {
		return nil, err
	}

	var out suggestionEnvelope
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, core.NewExtractionError("unparsable reminder suggestion response", err)
	}

	suggestions := make([]analysis.ReminderSuggestion, 0, len(out.Suggestions))
	for _, s := range out.Suggestions {
		suggestions = append(suggestions, analysis.ReminderSuggestion{ItemID: s.ItemID, Text: s.Text})
	}
	return suggestions, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return "", core.NewExtractionError("structured extraction call failed", err)
	}
	text := resp.Text()
	if text == "" {
		return "", core.NewExtractionError("empty extraction response", nil)
	}
	return text, nil
}
