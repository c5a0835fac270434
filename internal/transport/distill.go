package transport

import (
	"encoding/json"

	"github.com/irisrun/iris/internal/apperr"
	"github.com/irisrun/iris/internal/cache"
)

// DistillResponse reduces a completed cache entry's raw frame buffer to a
// single response string, per §6's output framing: a stream_event
// accumulator (reset on message_start, appended on content_block_delta,
// delivered on message_stop) when present, otherwise the concatenated text
// blocks of the final assistant frame. A result frame with is_error true
// fails the distillation regardless of any accumulated text.
func DistillResponse(frames []cache.Frame) (string, error) {
	var streamText string
	var sawStreamStop bool
	var assistantText string
	var sawAssistant bool
	var resultErr bool
	var sawResult bool

	for _, f := range frames {
		env := peekType(f.Raw)
		switch env.Type {
		case "stream_event":
			var ev streamEvent
			if err := json.Unmarshal(f.Raw, &ev); err != nil {
				continue
			}
			switch ev.Event.Type {
			case "message_start":
				streamText = ""
				sawStreamStop = false
			case "content_block_delta":
				if ev.Event.Delta.Type == "text_delta" {
					streamText += ev.Event.Delta.Text
				}
			case "message_stop":
				sawStreamStop = true
			}
		case "assistant":
			var am assistantMessage
			if err := json.Unmarshal(f.Raw, &am); err != nil {
				continue
			}
			var text string
			for _, block := range am.Message.Content {
				if block.Type == "text" {
					text += block.Text
				}
			}
			assistantText = text
			sawAssistant = true
		case "result":
			sawResult = true
			resultErr = env.IsError
		case "error":
			sawResult = true
			resultErr = true
		}
	}

	if sawResult && resultErr {
		return "", apperr.Agent("agent reported an error result")
	}

	if sawStreamStop {
		return streamText, nil
	}
	if sawAssistant {
		return assistantText, nil
	}
	return "", nil
}
