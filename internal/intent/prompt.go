package intent

import (
	"github.com/storefront-ai/recommender/internal/llm"
	"github.com/storefront-ai/recommender/pkg/models"
)

// maxConversationTurns bounds how much prior conversation is sent upstream.
const maxConversationTurns = 6

const systemPrompt = `You are the shopping assistant of an online store. Read the shopper's
message and describe what they are looking for as a single JSON object with
exactly these fields:

{
  "category": string or null,          // broad product category, e.g. "electronics"
  "subcategory": string or null,       // e.g. "earbuds"
  "requirements": [string],            // must-have features, short keywords
  "budget": {"min": number or null, "max": number or null},
  "preferences": [string],             // nice-to-have features, brands, colours
  "useCase": string or null,
  "confidence": number between 0 and 1, // how sure you are about the category
  "productRequestData": {              // null unless a specific, nameable product is asked for
    "name": string,                    // title-cased product name, e.g. "Flying Car"
    "category": string or null,
    "maxBudget": number or null,
    "specifications": [string]
  } or null
}

Budgets are plain numbers in the store currency: convert words such as
"2k" or "10 lakhs" to 2000 or 1000000. Use null, never text, when a value is
unknown. Reply with the JSON object only.`

// BuildRequest assembles the completion request for a query, including the
// most recent turns of conversation if supplied.
func BuildRequest(query string, conversation []models.ChatMessage) llm.CompletionRequest {
	if len(conversation) > maxConversationTurns {
		conversation = conversation[len(conversation)-maxConversationTurns:]
	}
	messages := make([]models.ChatMessage, 0, len(conversation)+1)
	for _, m := range conversation {
		if m.Content == "" {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, models.ChatMessage{Role: "user", Content: query})

	return llm.CompletionRequest{
		System:   systemPrompt,
		Messages: messages,
		JSON:     true,
	}
}
