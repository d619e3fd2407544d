package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deskpilot/deskpilot/internal/session"
)

// TicketRef is the outcome of extracting ticket identifiers from a
// past-scope status query.
type TicketRef struct {
	Complete bool   `json:"complete"`
	ChatID   string `json:"chat_id"`
	TicketID string `json:"ticket_id"`
	Reply    string `json:"response"`
}

// ExtractTicketRef asks the model to pull chat/ticket ids out of a status
// query about another conversation. The model's completeness verdict is
// re-derived from the extracted ids, since models get it wrong either way.
func (r *Router) ExtractTicketRef(ctx context.Context, message string, history []session.Turn) (TicketRef, error) {
	var b strings.Builder
	for _, t := range history {
		if t.Role == session.RoleUser {
			fmt.Fprintf(&b, "User: %s\n", t.Content)
		}
	}
	fmt.Fprintf(&b, "User message: %s\n", message)

	raw, err := r.completer.Complete(ctx, idExtractionPrompt, b.String())
	if err != nil {
		return TicketRef{}, err
	}
	var ref TicketRef
	if err := json.Unmarshal([]byte(stripFences(raw)), &ref); err != nil {
		return TicketRef{}, fmt.Errorf("unparseable extraction output: %w", err)
	}
	ref.ChatID = strings.TrimSpace(ref.ChatID)
	ref.TicketID = normalizeTicketID(strings.TrimSpace(ref.TicketID))
	ref.Complete = ref.ChatID != "" && ref.TicketID != ""
	return ref, nil
}

// normalizeTicketID converts bare numbers to the TICKET-00003 form.
func normalizeTicketID(id string) string {
	if id == "" {
		return ""
	}
	digits := strings.TrimLeft(strings.ToUpper(id), "TICKE-")
	if id == digits { // bare number
		var n int
		if _, err := fmt.Sscanf(id, "%d", &n); err == nil {
			return fmt.Sprintf("TICKET-%05d", n)
		}
	}
	if strings.HasPrefix(strings.ToUpper(id), "TICKET-") {
		var n int
		if _, err := fmt.Sscanf(digits, "%d", &n); err == nil {
			return fmt.Sprintf("TICKET-%05d", n)
		}
	}
	return id
}
