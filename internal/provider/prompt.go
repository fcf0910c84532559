package provider

import "strings"

// SystemInstruction identifies the assistant's domain in every prompt.
const SystemInstruction = "You are a helpful assistant for an e-commerce website focusing on men's fashion and jewelry."

// Message is a single chat turn sent to a chat-completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is the rendered model input. System is empty for backends that take one block of text.
type Prompt struct {
	System string
	User   string
}

// Messages returns the prompt as a chat message list.
func (p Prompt) Messages() []Message {
	var msgs []Message
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	return append(msgs, Message{Role: "user", Content: p.User})
}

// String flattens the prompt into a single model input.
func (p Prompt) String() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// RenderPrompt merges the instruction, context and query for kind.
// Values are concatenated, never substituted, so braces in documents are left alone.
func RenderPrompt(kind Kind, context, query string) Prompt {
	switch kind {
	case KindGroq:
		return Prompt{User: llamaPrompt(context, query)}
	case KindGemini:
		return Prompt{User: SystemInstruction + "\n\n" +
			"Context: " + context + "\n\n" +
			"Question: " + query + "\n\n" +
			"Answer:"}
	default:
		return Prompt{
			System: SystemInstruction,
			User:   "Context: " + context + "\nQuestion: " + query + "\nAnswer:",
		}
	}
}

func llamaPrompt(context, query string) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n")
	b.WriteString(SystemInstruction)
	b.WriteString("\n\nContext information:\n")
	b.WriteString(context)
	b.WriteString("\n\nUse the context information to provide accurate and helpful responses about products,\n")
	b.WriteString("pricing, shipping, and other details when relevant to the user's query.\n")
	b.WriteString("<|eot_id|><|start_header_id|>user<|end_header_id|>\n")
	b.WriteString(query)
	b.WriteString("\n<|eot_id|><|start_header_id|>assistant<|end_header_id|>")
	return b.String()
}
