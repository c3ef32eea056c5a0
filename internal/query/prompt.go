package query

import (
	"fmt"
	"strings"

	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/tokenizer"
	"docqa/internal/util"
)

const (
	DefaultSystemPrompt = "You are a helpful AI assistant. Answer questions based on the provided " +
		"source documents. Always cite your sources using [N] markers that correspond " +
		"to the numbered references below."

	citationInstructions = "\n\nIMPORTANT: When referencing information from the sources below, " +
		"cite them using [N] notation where N is the source number. " +
		"If the sources do not contain enough information to answer the question, " +
		"say so clearly rather than making up information."

	// SourceContentChars caps how much of each chunk the prompt carries.
	SourceContentChars = 2000
)

// BuildSystemPrompt renders the workspace prompt, the citation rules and the
// numbered source list. Source i in the list is cited as [i].
func BuildSystemPrompt(workspacePrompt string, sources []models.SearchResult) string {
	parts := make([]string, 0, len(sources)+4)
	if strings.TrimSpace(workspacePrompt) != "" {
		parts = append(parts, workspacePrompt)
	} else {
		parts = append(parts, DefaultSystemPrompt)
	}
	parts = append(parts, citationInstructions)
	parts = append(parts, "\n\n--- SOURCES ---\n")
	for i, s := range sources {
		var b strings.Builder
		name := s.DocumentName
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(&b, "[%d] Document: %s", i+1, name)
		if s.Chunk.PageNumber != nil {
			fmt.Fprintf(&b, ", Page %d", *s.Chunk.PageNumber)
		}
		if s.Chunk.SectionTitle != nil && *s.Chunk.SectionTitle != "" {
			fmt.Fprintf(&b, ", Section: %s", *s.Chunk.SectionTitle)
		}
		b.WriteString("\n")
		content, _ := util.TruncateRunes(s.Chunk.Content, SourceContentChars)
		b.WriteString(content)
		b.WriteString("\n")
		parts = append(parts, b.String())
	}
	parts = append(parts, "--- END SOURCES ---")
	return strings.Join(parts, "\n")
}

// TrimHistory keeps the newest messages whose token total fits budget and
// returns them in chronological order. The walk stops at the first message
// that does not fit.
func TrimHistory(tok tokenizer.Tokenizer, history []models.Message, budget int) []providers.ChatMessage {
	used := 0
	kept := make([]providers.ChatMessage, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		n := tok.Count(m.Content)
		if used+n > budget {
			break
		}
		used += n
		role := string(m.Role)
		if role == "" {
			role = string(models.RoleUser)
		}
		kept = append(kept, providers.ChatMessage{Role: role, Content: m.Content})
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// BuildMessages assembles system prompt, trimmed history and the question.
func BuildMessages(tok tokenizer.Tokenizer, workspace models.Workspace, session models.QuerySession, sources []models.SearchResult, question string, budget int) []providers.ChatMessage {
	history := TrimHistory(tok, session.Messages, budget)
	msgs := make([]providers.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, providers.ChatMessage{Role: string(models.RoleSystem), Content: BuildSystemPrompt(workspacePrompt(workspace), sources)})
	msgs = append(msgs, history...)
	msgs = append(msgs, providers.ChatMessage{Role: string(models.RoleUser), Content: question})
	return msgs
}

// workspacePrompt prefers the system prompt column, then a prompt_template setting.
func workspacePrompt(w models.Workspace) string {
	if strings.TrimSpace(w.SystemPrompt) != "" {
		return w.SystemPrompt
	}
	if t, ok := w.Settings["prompt_template"].(string); ok {
		return t
	}
	return ""
}
