package agentchannel

import "encoding/json"

// wireBlock mirrors one element of an assistant message's content array
// as emitted by the Agent's stream-json output format.
type wireBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// wireEvent mirrors one line of the Agent's stream-json output. Fields
// not relevant to a given Type are left zero; unmarshal never fails on a
// well-formed but foreign event shape, so unrecognized types are simply
// dropped by parseWireLine.
type wireEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	SessionID string `json:"session_id"`

	Message struct {
		Role    string      `json:"role"`
		Content []wireBlock `json:"content"`
	} `json:"message"`

	Description string `json:"description"`
	Status      string `json:"status"`
	Summary     string `json:"summary"`

	IsError bool     `json:"is_error"`
	Errors  []string `json:"errors"`
}

// parseWireLine converts one raw stream-json line into an Event. Lines
// that fail to unmarshal, or whose "type" doesn't match a known kind,
// are dropped (ok == false) -- the stream reader simply skips them,
// mirroring the Conversation Store's tolerant line parser.
func parseWireLine(line []byte) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, false
	}

	switch w.Type {
	case "system":
		if w.Subtype != "" && w.Subtype != "init" {
			return Event{}, false
		}
		return Event{Kind: EventSystemInit, SessionID: w.SessionID}, true

	case "assistant":
		blocks := make([]AssistantBlock, 0, len(w.Message.Content))
		for _, b := range w.Message.Content {
			switch b.Type {
			case "text":
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, AssistantBlock{Kind: BlockText, Text: b.Text})
			case "tool_use":
				blocks = append(blocks, AssistantBlock{
					Kind:      BlockToolUse,
					ToolUseID: b.ID,
					ToolName:  b.Name,
					ToolInput: b.Input,
				})
			}
		}
		if len(blocks) == 0 {
			return Event{}, false
		}
		return Event{Kind: EventAssistant, Blocks: blocks}, true

	case "task_started":
		return Event{Kind: EventTaskStarted, Description: w.Description}, true

	case "task_notification":
		return Event{Kind: EventTaskNotification, Status: w.Status, Summary: w.Summary}, true

	case "result":
		return Event{Kind: EventResult, IsError: w.IsError, Errors: w.Errors}, true

	default:
		return Event{}, false
	}
}

// encodeStreamInput builds the stream-json user-turn message the Agent
// subprocess expects on stdin, mirroring the shape the pai-do grounding
// file writes for attachment turns, generalized to plain text turns.
func encodeStreamInput(text string) ([]byte, error) {
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": []map[string]any{{"type": "text", "text": text}},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
