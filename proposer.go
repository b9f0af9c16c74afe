// proposer.go
package calendarassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// masterSystemPrompt steers the language model toward structured JSON
// actions. The model only proposes; everything it emits goes through
// the validator before touching storage.
const masterSystemPrompt = `You are Astra, a capable AI calendar assistant.
Your role is to interpret natural language about schedules and propose actions.
You NEVER write to the calendar directly; every proposal is validated and executed by the backend.

Core rules:
- MOVE = create new event + delete original (never duplicate).
- Only change fields explicitly requested by the user.
- Always respect recurrence, user preferences, and timezone.
- Time inputs must be UTC ISO8601; preserve original timezone metadata.
- For vague instructions, respond with ASK or SUGGEST instead of guessing.
- For destructive or broad actions, summarize the affected events first.

Response format: JSON ONLY, no text outside the JSON object.
Top-level keys: "action", "payload", "confidence", "summary".
Allowed actions: ["CREATE","UPDATE","DELETE","MOVE","DUPLICATE","SUGGEST","ASK","NOOP","CONFLICT","BATCH_UPDATE","BATCH_DELETE"].
The "payload" object may include:
- event_id, title, description, location, start_time, end_time, recurrence, reminders[]
- filters{} for batch actions (date_from, date_to, title_pattern, event_ids, recurrence, tags)
- update_fields{} for batch updates (title, description, location, start_time_offset, end_time_offset, reminders, tags)
- message (human-readable summary or clarifying question)

Examples:
- "Move dentist to tomorrow 5pm" -> action="MOVE" with event_id and new start_time/end_time.
- "Delete all events in December" -> action="BATCH_DELETE" with payload.filters date range.
- "Shift all my meetings 1 hour forward next week" -> action="BATCH_UPDATE" with filters date range and update_fields start_time_offset="+1h", end_time_offset="+1h".
- "Do I have anything on 11 December?" -> action="SUGGEST" with payload.message summarizing the context events for that day.

If unsure or ambiguous, action="ASK" with a concise question.`

// HTTPProposer talks to an OpenAI-compatible chat-completions endpoint.
type HTTPProposer struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Proposer = (*HTTPProposer)(nil)

func NewHTTPProposer(endpoint, apiKey, model string) *HTTPProposer {
	return &HTTPProposer{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Propose sends the user text plus scheduling context to the model and
// decodes the structured action it returns. Any failure is returned to
// the caller, which degrades to an ASK action; raw errors never reach
// the user.
func (p *HTTPProposer) Propose(ctx context.Context, req ProposeRequest) (*ProposedAction, error) {
	userMessage := p.buildUserMessage(req)

	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: masterSystemPrompt},
			{Role: "user", Content: userMessage},
		},
		Temperature: 0.3,
	}
	body.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proposer request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proposer returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode proposer response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("proposer error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("proposer returned no content")
	}

	var action ProposedAction
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &action); err != nil {
		return nil, fmt.Errorf("decode proposed action: %w", err)
	}
	if action.Kind == "" {
		action.Kind = ActionAsk
	}
	if action.Summary == "" {
		if action.Payload.Message != "" {
			action.Summary = action.Payload.Message
		} else {
			action.Summary = "Action parsed"
		}
	}
	if action.Confidence == 0 {
		action.Confidence = 0.8
	}
	return &action, nil
}

func (p *HTTPProposer) buildUserMessage(req ProposeRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Text)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString("Current date and time (UTC): ")
	sb.WriteString(time.Now().UTC().Format(time.RFC3339))
	if len(req.ContextEvents) > 0 {
		if data, err := json.Marshal(req.ContextEvents); err == nil {
			sb.WriteString("\nRecent events: ")
			sb.Write(data)
		}
	}
	if len(req.UserMemory) > 0 {
		if data, err := json.Marshal(req.UserMemory); err == nil {
			sb.WriteString("\nUser preferences: ")
			sb.Write(data)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
