package compose

import (
	"fmt"
	"strings"

	"github.com/deskpilot/deskpilot/internal/retrieval"
	"github.com/deskpilot/deskpilot/internal/router"
	"github.com/deskpilot/deskpilot/internal/ticket"
)

// Apology is the user-visible text for any unresolved failure. Raw errors
// never reach the user.
const Apology = "Sorry, something went wrong on our side while handling that. Please try again in a moment."

// AcknowledgmentReply closes a satisfied conversation.
const AcknowledgmentReply = "You're welcome! Feel free to reach out if you need any further assistance. Have a great day!"

// NoTicketReply answers status queries for chats without a ticket.
const NoTicketReply = "I couldn't find a ticket for this conversation. If you have a ticket from another chat, share its Chat ID and Ticket ID and I'll look it up."

// Final is the assembled response payload for one inbound message.
type Final struct {
	Content   string             `json:"content"`
	Sources   []retrieval.Source `json:"sources,omitempty"`
	Route     router.Route       `json:"route"`
	TicketRef string             `json:"ticket_ref,omitempty"`
}

// Informational assembles an answer plus up to max distinct source links.
// The reference block is omitted entirely when nothing was retrieved, and
// the listed sources are always a subset of the retrieval result.
func Informational(answer string, sources []retrieval.Source, max int) Final {
	if max > 0 && len(sources) > max {
		sources = sources[:max]
	}
	content := strings.TrimSpace(answer)
	if len(sources) > 0 {
		var links []string
		for _, s := range sources {
			title := s.Title
			if title == "" {
				title = s.URL
			}
			links = append(links, fmt.Sprintf("[%s](%s)", title, s.URL))
		}
		content = content + "\n\nReference Links:\n" + strings.Join(links, ", ")
	}
	return Final{Content: content, Sources: sources, Route: router.RouteInformational}
}

// Ticketed assembles a response for the escalation and status routes,
// carrying the ticket reference when a ticket exists.
func Ticketed(route router.Route, answer string, t *ticket.Ticket) Final {
	f := Final{Content: strings.TrimSpace(answer), Route: route}
	if t != nil {
		f.TicketRef = t.ID
	}
	return f
}

// Fallback is the safe response for failures and the confused route.
func Fallback(route router.Route) Final {
	return Final{Content: Apology, Route: route}
}

// TicketSummary renders a human-readable status line for one ticket.
func TicketSummary(t ticket.Ticket) string {
	return fmt.Sprintf("Ticket %s (%s) is currently %s. Opened %s, last update %s.",
		t.ID, t.Subject, t.Status,
		t.CreatedAt.Format("Jan 2 2006 15:04"),
		t.UpdatedAt.Format("Jan 2 2006 15:04"))
}
