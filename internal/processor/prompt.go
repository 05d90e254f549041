package processor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	systemIcebreaker  = "You are an expert sales copywriter."
	systemTranscript  = "You are an expert meeting coach."
	systemDeckSummary = "You write concise executive summaries."
)

// Kind selects which workflow a job runs.
type Kind string

const (
	KindIcebreaker Kind = "icebreaker"
	KindTranscript Kind = "transcript"
)

// Attendees accepts either a JSON string or an array and normalizes to a
// comma-separated string.
type Attendees string

func (a *Attendees) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Attendees(s)
		return nil
	}
	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		parts := make([]string, len(list))
		for i, v := range list {
			parts[i] = fmt.Sprint(v)
		}
		*a = Attendees(strings.Join(parts, ", "))
		return nil
	}
	return fmt.Errorf("attendees must be a string or an array")
}

func (a Attendees) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// IcebreakerPayload is the icebreaker job body. JobID is embedded by the
// dispatcher so callbacks can be correlated and deduplicated.
type IcebreakerPayload struct {
	JobID       string `json:"job_id,omitempty"`
	LinkedinBio string `json:"linkedinBio"`
	DeckText    string `json:"deckText"`
}

// TranscriptPayload is the transcript job body.
type TranscriptPayload struct {
	JobID      string    `json:"job_id,omitempty"`
	Name       string    `json:"name"`
	Company    string    `json:"company"`
	Attendees  Attendees `json:"attendees"`
	Date       string    `json:"date"`
	Transcript string    `json:"transcript"`
}

func transcriptPrompt(p TranscriptPayload) string {
	return "Review the following meeting transcript and provide:" +
		"\n- What went well" +
		"\n- What could be improved" +
		"\n- Actionable recommendations for next time" +
		"\nBe concise, specific, and reference quotes when appropriate.\n\n" +
		fmt.Sprintf("Company: %s\nAttendees: %s\nDate: %s\n\n",
			strings.TrimSpace(p.Company), strings.TrimSpace(string(p.Attendees)), strings.TrimSpace(p.Date)) +
		fmt.Sprintf("Transcript:\n%s", strings.TrimSpace(p.Transcript))
}

// icebreakerPrompt builds the outreach prompt. deckLabel distinguishes a
// user-supplied deck summary from one generated out of an uploaded PDF.
func icebreakerPrompt(bio, deck, deckLabel string) string {
	return "Using the following information, craft a personalized outreach icebreaker message." +
		"\nAnalyze the LinkedIn bio to understand the person's role, tone, interests, and goals." +
		"\nUse the sales deck to align the value proposition with their likely priorities or pain points." +
		"\nInclude:" +
		"\n- One personalized hook (based on something specific from their LinkedIn or company)." +
		"\n- One insight or observation linking their background to what the deck offers." +
		"\n- A natural transition line that sets up the conversation, without sounding salesy." +
		"\nEnd with a friendly question or soft CTA that encourages a reply." +
		"\n\nBe creative but authentic — sound like a human who did their homework." +
		"\n\nInputs:" +
		fmt.Sprintf("\nLinkedIn About Section:\n%s", bio) +
		fmt.Sprintf("\n\n%s:\n%s", deckLabel, deck)
}

func deckSummaryPrompt(rawText string) string {
	return "You are analyzing a pitch deck. Read the full extracted text and " +
		"produce a concise executive summary capturing: product, ICP, pain points, " +
		"value propositions, key features, metrics/ROI claims, differentiators, and proof/case studies. " +
		"Keep it under 300-400 words and avoid speculation.\n\n" +
		"Deck Text:\n" + rawText
}

var (
	whitespaceRE  = regexp.MustCompile(`\s+`)
	greetingRE    = regexp.MustCompile(`(?i)^(dear|hi|hello)\b[^,]*,?\s*`)
	placeholderRE = regexp.MustCompile(`\[[^\]]+\]`)
)

// cleanIcebreaker collapses whitespace, drops a leading greeting clause, and
// strips bracketed template placeholders the model sometimes leaves behind.
func cleanIcebreaker(s string) string {
	s = strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
	s = greetingRE.ReplaceAllString(s, "")
	s = placeholderRE.ReplaceAllString(s, "")
	return s
}

// collapseWhitespace normalizes summary text to a single line.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}
