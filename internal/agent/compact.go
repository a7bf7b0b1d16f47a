package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/relaygent/relaygent/internal/provider"
	"github.com/relaygent/relaygent/internal/timeline"
)

// compactionMarker prefixes the summary user message so later turns (and
// humans reading transcripts) can tell synthesized history from real input.
const compactionMarker = "[Conversation summary from compaction]: "

const compactionAck = "Understood. I have the summary of our conversation so far and will continue from it."

const summarizePrompt = "You are a conversation summarizer. Produce a concise summary of the conversation below that preserves all facts, decisions, open tasks, and file paths needed to continue the work. Reply with the summary only."

// chunkSize bounds each piece of the chunked fallback, in characters.
const chunkSize = 8000

// ContextUtilization is the ratio of the last measured prompt size to the
// model's context window.
func (a *RecursiveAgent) ContextUtilization() float64 {
	if a.maxContextTokens <= 0 {
		return 0
	}
	return float64(a.lastPromptTokens) / float64(a.maxContextTokens)
}

// CompactConversation replaces the message history with an LLM-generated
// summary to reclaim token budget. On success the message list holds exactly
// three entries: the original system message, a user message carrying the
// marked summary, and a synthetic assistant acknowledgement. On failure the
// conversation is left unmodified.
func (a *RecursiveAgent) CompactConversation(ctx context.Context, instructions string) (string, error) {
	serialized := a.serializeConversation()
	if serialized == "" {
		return "", fmt.Errorf("nothing to compact: conversation has no non-system messages")
	}

	summary, err := a.summarize(ctx, serialized, instructions)
	if err != nil {
		if !isTimeoutErr(err) {
			return "", fmt.Errorf("compaction failed: %w", err)
		}
		a.logger.Warn("Summarization timed out, falling back to chunked compaction", "error", err)
		summary, err = a.summarizeChunked(ctx, serialized, instructions)
		if err != nil {
			return "", fmt.Errorf("chunked compaction failed: %w", err)
		}
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("compaction failed: model returned an empty summary")
	}
	if len(summary) >= len(serialized) {
		return "", fmt.Errorf("compaction failed: summary (%d chars) is not shorter than the original (%d chars)", len(summary), len(serialized))
	}

	systemMsg := provider.Message{Role: "system", Content: a.profile.SystemPrompt}
	if len(a.messages) > 0 && a.messages[0].Role == "system" {
		systemMsg = a.messages[0]
	}
	a.messages = []provider.Message{
		systemMsg,
		{Role: "user", Content: compactionMarker + summary},
		{Role: "assistant", Content: compactionAck},
	}
	a.compactionPending = false
	a.record(timeline.SpanSystem, "compaction", map[string]any{
		"original_chars": len(serialized),
		"summary_chars":  len(summary),
	})
	a.logger.Info("Conversation compacted", "original_chars", len(serialized), "summary_chars", len(summary))
	return summary, nil
}

// serializeConversation renders every non-system message as plain text.
func (a *RecursiveAgent) serializeConversation() string {
	var b strings.Builder
	for _, msg := range a.messages {
		if msg.Role == "system" {
			continue
		}
		content := msg.Content
		if content == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				names[i] = tc.Name
			}
			content = "(called tools: " + strings.Join(names, ", ") + ")"
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
	}
	return b.String()
}

// summarize asks the model for a summary of text in a single call, with no
// tools exposed.
func (a *RecursiveAgent) summarize(ctx context.Context, text, instructions string) (string, error) {
	prompt := summarizePrompt
	if instructions != "" {
		prompt += "\nAdditional instructions: " + instructions
	}
	resp, err := a.settings.Provider.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
		Model:       a.model(),
		MaxTokens:   a.settings.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// summarizeChunked splits the serialized conversation into pieces,
// summarizes each independently, and joins the partial summaries. Any
// failure here is fatal to the compaction attempt.
func (a *RecursiveAgent) summarizeChunked(ctx context.Context, serialized, instructions string) (string, error) {
	chunks := splitChunks(serialized, chunkSize)
	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		part, err := a.summarize(ctx, chunk, instructions)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if part = strings.TrimSpace(part); part != "" {
			partials = append(partials, part)
		}
	}
	if len(partials) == 0 {
		return "", fmt.Errorf("all %d chunk summaries were empty", len(chunks))
	}
	return strings.Join(partials, "\n"), nil
}

// splitChunks breaks text into pieces of at most size characters, preferring
// line boundaries.
func splitChunks(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var chunks []string
	for len(text) > size {
		cut := size
		if i := strings.LastIndexByte(text[:size], '\n'); i > size/2 {
			cut = i + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// isTimeoutErr classifies an error as a timeout eligible for the chunked
// fallback.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded")
}
