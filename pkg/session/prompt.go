package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lmonteiro/james/pkg/knowledge"
	"github.com/lmonteiro/james/pkg/profile"
)

// Location is an approximate user position.
type Location struct {
	Latitude  float64
	Longitude float64
}

// LocationProvider yields the user's current position, or an error when
// it cannot be determined.
type LocationProvider interface {
	Current(ctx context.Context) (*Location, error)
}

// ComposeSystemInstruction builds the dynamic system instruction sent
// at connect time: current time and date with an appropriate greeting,
// location context honoring the geolocation toggle, the knowledge base,
// and finally the profile's own instruction.
func ComposeSystemInstruction(p *profile.Profile, now time.Time, loc *Location) string {
	var b strings.Builder

	greeting := "Good evening"
	switch hour := now.Hour(); {
	case hour >= 5 && hour < 12:
		greeting = "Good morning"
	case hour >= 12 && hour < 18:
		greeting = "Good afternoon"
	}
	zone, _ := now.Zone()
	fmt.Fprintf(&b, "Current time context: %s, %s. User time zone: %s. Appropriate greeting: %s.\n",
		now.Format("Monday, January 2"), now.Format("15:04"), zone, greeting)

	switch {
	case !p.Integrations.Geolocation:
		b.WriteString("Current location context: the user has disabled geolocation in settings.\n")
	case loc == nil:
		b.WriteString("Current location context: location permission may have been denied or the service is unavailable. The user's exact location is unknown.\n")
	default:
		fmt.Fprintf(&b, "Current location context: the user is near latitude %.4f, longitude %.4f.\n",
			loc.Latitude, loc.Longitude)
	}

	b.WriteString("\n")
	b.WriteString(FormatKnowledgeContext(p.Knowledge))
	b.WriteString(p.SystemInstruction)
	return b.String()
}

// FormatKnowledgeContext renders the knowledge base as prompt context.
// Returns an empty string when there is nothing to say.
func FormatKnowledgeContext(base knowledge.Base) string {
	names := map[knowledge.Category]string{
		knowledge.CategoryPersonal:     "Personal",
		knowledge.CategoryProfessional: "Professional",
		knowledge.CategoryGoals:        "Goals",
		knowledge.CategoryMisc:         "Miscellaneous",
	}

	var b strings.Builder
	hasContent := false
	for _, cat := range knowledge.Categories() {
		items := base[cat]
		if len(items) == 0 {
			continue
		}
		hasContent = true
		fmt.Fprintf(&b, "Category: %s\n", names[cat])
		for _, item := range items {
			fmt.Fprintf(&b, "- Title: %s\n  Content: %s\n", item.Title, item.Content)
		}
		b.WriteString("\n")
	}
	if !hasContent {
		return ""
	}
	return "START OF USER KNOWLEDGE BASE\n\n" + b.String() + "END OF USER KNOWLEDGE BASE\n\n"
}
