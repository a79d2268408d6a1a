package completion

import (
	"fmt"
	"strings"
)

// InsufficientContextAnswer is the exact reply the model is told to give when the
// context cannot answer the question.
const InsufficientContextAnswer = "I don't have enough information in the document to answer this question."

// NoContextAnswer is returned without calling the model when retrieval found nothing.
const NoContextAnswer = "I couldn't find any relevant information in the document to answer your question."

// ContextSeparator separates context sections in the user message.
const ContextSeparator = "\n\n---\n\n"

const systemPrompt = `You are a helpful assistant that answers questions based ONLY on the provided context from a document.
Rules:
- Answer the question using ONLY the information provided in the context below.
- If the context does not contain enough information to answer the question, say "` + InsufficientContextAnswer + `"
- Do not make up information or use knowledge outside the provided context.
- If you reference specific information, mention which context section it came from (e.g., "According to Context 1...").
- Be concise but complete.`

// ContextChunk is one retrieved passage handed to the model.
type ContextChunk struct {
	Text string
	// Page is 1-based; 0 when unknown.
	Page int
}

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SectionHeader returns the label of the n-th (1-based) context section.
func SectionHeader(n, page int) string {
	if page > 0 {
		return fmt.Sprintf("[Context %d (Page %d)]:\n", n, page)
	}
	return fmt.Sprintf("[Context %d]:\n", n)
}

// FormatContext renders chunks as labelled sections in rank order.
func FormatContext(chunks []ContextChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = SectionHeader(i+1, c.Page) + c.Text
	}
	return strings.Join(parts, ContextSeparator)
}

// BuildMessages returns the system and user messages for a grounded answer.
func BuildMessages(question string, chunks []ContextChunk) []Message {
	user := "Context from document:\n\n" + FormatContext(chunks) + "\n\nQuestion: " + question + "\n\nAnswer:"
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}
