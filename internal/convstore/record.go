// Package convstore is the Conversation Store (spec.md §4.1): a read-only
// index over the Agent's on-disk conversation tree,
// `<home>/.claude/projects/<encoded-dir>/<session-id>.jsonl`.
//
// Grounded on other_examples/861458ad_kylesnowschwartz-tail-claude's
// parser package: incremental byte-offset tailing, single-pass metadata
// scans, and a tolerant line-delimited JSON parser that skips malformed
// lines instead of failing the whole read.
package convstore

import "encoding/json"

// Kind is the top-level record discriminator.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindSystem    Kind = "system"
)

// BlockType discriminates content blocks within a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// Block is one element of a message's content array. Only the fields
// relevant to a given Type are populated.
type Block struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`        // tool_use id
	Name      string          `json:"name,omitempty"`      // tool_use name
	Input     json.RawMessage `json:"input,omitempty"`     // tool_use input
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// message is the inner `message` object of a record.
type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []Block
	Model   string          `json:"model,omitempty"`
}

// Record is one line of a conversation file, permissively parsed: a line
// that doesn't match this shape at all is rejected by ParseLine, but any
// field absent from a given record kind is simply left zero.
type Record struct {
	UUID          string          `json:"uuid"`
	Type          Kind            `json:"type"`
	Timestamp     string          `json:"timestamp"`
	IsMeta        bool            `json:"isMeta"`
	IsSidechain   bool            `json:"isSidechain"`
	Slug          string          `json:"slug,omitempty"`
	ToolUseResult json.RawMessage `json:"toolUseResult,omitempty"`
	Message       message         `json:"message"`
}

// Blocks returns the message content normalized to a slice of Block,
// whether the on-disk content was a bare string or an array of typed
// blocks. A bare string becomes a single BlockText.
func (r *Record) Blocks() []Block {
	if len(r.Message.Content) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(r.Message.Content, &s); err == nil {
		if s == "" {
			return nil
		}
		return []Block{{Type: BlockText, Text: s}}
	}
	var blocks []Block
	if err := json.Unmarshal(r.Message.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// Text concatenates every text block in emission order.
func (r *Record) Text() string {
	var out string
	for _, b := range r.Blocks() {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ParseLine parses one raw jsonl line into a Record. A line that fails to
// unmarshal, or unmarshals without a uuid, is rejected -- callers skip and
// debug-log per spec.md §4.1/§7 ("record-file parse error on one line:
// skip line, debug-log").
func ParseLine(line []byte) (Record, bool) {
	var rec Record
	if len(line) == 0 {
		return Record{}, false
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, false
	}
	if rec.UUID == "" || rec.Type == "" {
		return Record{}, false
	}
	return rec, true
}
