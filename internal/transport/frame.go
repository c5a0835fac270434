// Package transport drives exactly one agent process over stream-json
// stdio (§4.2), grounded on the retrieval pack's claude-manager.go
// reference (its StreamEvent/ContentBlock/stdinUserMessage shapes) and the
// teacher's exec.CommandContext-based process spawning.
package transport

import "encoding/json"

// stdinUserMessage is the wire-level envelope written to the agent's
// stdin for every outgoing message (§6): one JSON object per line of the
// form {"type":"user","message":{"role":"user","content":[{"type":"text",
// "text":"..."}]}}.
type stdinUserMessage struct {
	Type    string              `json:"type"`
	Message stdinMessageContent `json:"message"`
}

type stdinMessageContent struct {
	Role    string        `json:"role"`
	Content []textContent `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newStdinUserMessage(text string) stdinUserMessage {
	return stdinUserMessage{
		Type: "user",
		Message: stdinMessageContent{
			Role:    "user",
			Content: []textContent{{Type: "text", Text: text}},
		},
	}
}

// envelope is the minimal top-level shape the transport inspects on every
// stdout line, per §4.2's "dumb pipe" rule: only type/subtype/is_error are
// read here, never message content. Everything else is opaque and simply
// appended to the current cache entry unparsed.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
}

// contentBlock is one block of an assistant message's content array,
// mirroring claude-manager.go's ContentBlock. Used only by the pool's
// response-distillation step (sendMessage), never by the transport itself.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// assistantMessage is the alternative final response form named in §6:
// {"type":"assistant","message":{"content":[{"type":"text","text":"..."}]}}.
type assistantMessage struct {
	Type    string `json:"type"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

// streamEvent carries the nested Anthropic-style streaming frame named in
// §6: {"type":"stream_event","event":{...}}.
type streamEvent struct {
	Type  string `json:"type"`
	Event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
}

// resultFrame is {"type":"result","is_error":bool,...}, which both
// completes a cache entry and (when present) is what sendMessage prefers
// as an error signal.
type resultFrame struct {
	Type         string  `json:"type"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMs   int64   `json:"duration_ms"`
}

func peekType(raw json.RawMessage) envelope {
	var e envelope
	_ = json.Unmarshal(raw, &e)
	return e
}
