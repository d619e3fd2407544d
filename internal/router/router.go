package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/ticket"
)

// Route is the decided handling category for an inbound message. The set is
// closed so downstream components can switch exhaustively instead of parsing
// prose.
type Route string

const (
	RouteInformational  Route = "informational"
	RouteTicketStatus   Route = "ticket_status"
	RouteEscalation     Route = "escalation"
	RouteConfused       Route = "confused"
	RouteSystemStatus   Route = "system_status"
	RouteAcknowledgment Route = "acknowledgment"
)

// Scope distinguishes status queries about this conversation's ticket from
// queries that carry ids for another conversation.
type Scope string

const (
	ScopeCurrent Scope = "current"
	ScopePast    Scope = "past"
)

// Decision is the classifier output for one message.
type Decision struct {
	Route       Route
	Sentiment   string
	Confidence  float64
	TicketScope Scope
}

// Completer is the text-completion collaborator used for classification.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Router classifies messages into routes. It owns no state: the decision is
// a function of the message, recent history and the chat's active ticket.
type Router struct {
	cfg       config.RouterConfig
	completer Completer
	logger    *log.Logger
}

func New(cfg config.RouterConfig, completer Completer) *Router {
	return &Router{
		cfg:       cfg,
		completer: completer,
		logger:    log.New(log.Writer(), "[ROUTER] ", log.LstdFlags),
	}
}

// classifierReply is the structured output requested from the model.
type classifierReply struct {
	Route       string  `json:"route"`
	Sentiment   string  `json:"sentiment"`
	Confidence  float64 `json:"confidence"`
	TicketScope string  `json:"ticket_scope,omitempty"`
}

// Classify decides how to handle a message. Collaborator failures never
// propagate: low confidence, malformed output and transport errors all
// degrade to RouteConfused.
func (r *Router) Classify(ctx context.Context, message string, history []session.Turn, active *ticket.Ticket) Decision {
	prompt := r.buildPrompt(message, history, active)

	raw, err := r.completer.Complete(ctx, classifierSystemPrompt, prompt)
	if err != nil {
		r.logger.Printf("classification call failed, falling back to confused: %v", err)
		return Decision{Route: RouteConfused, Sentiment: "Neutral"}
	}

	var reply classifierReply
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		r.logger.Printf("classification output unparseable, falling back to confused: %v", err)
		return Decision{Route: RouteConfused, Sentiment: "Neutral"}
	}

	route, ok := parseRoute(reply.Route)
	if !ok || reply.Confidence < r.cfg.MinConfidence {
		r.logger.Printf("classification rejected (route=%q confidence=%.2f), falling back to confused", reply.Route, reply.Confidence)
		return Decision{Route: RouteConfused, Sentiment: sentimentOrNeutral(reply.Sentiment), Confidence: reply.Confidence}
	}

	d := Decision{
		Route:      route,
		Sentiment:  sentimentOrNeutral(reply.Sentiment),
		Confidence: reply.Confidence,
	}
	if route == RouteTicketStatus {
		d.TicketScope = ScopeCurrent
		if Scope(reply.TicketScope) == ScopePast {
			d.TicketScope = ScopePast
		}
	}
	return d
}

func parseRoute(s string) (Route, bool) {
	switch Route(strings.ToLower(strings.TrimSpace(s))) {
	case RouteInformational:
		return RouteInformational, true
	case RouteTicketStatus:
		return RouteTicketStatus, true
	case RouteEscalation:
		return RouteEscalation, true
	case RouteConfused:
		return RouteConfused, true
	case RouteSystemStatus:
		return RouteSystemStatus, true
	case RouteAcknowledgment:
		return RouteAcknowledgment, true
	}
	return "", false
}

func sentimentOrNeutral(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Neutral"
	}
	return s
}

// buildPrompt renders the user prompt: the message plus the conversation
// context the classifier needs for its biases.
func (r *Router) buildPrompt(message string, history []session.Turn, active *ticket.Ticket) string {
	var b strings.Builder

	window := r.cfg.HistoryWindow
	if window <= 0 {
		window = 4
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) > 0 {
		b.WriteString("<chat_history>\n")
		for _, t := range history {
			role := "User"
			if t.Role == session.RoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
		}
		b.WriteString("</chat_history>\n\n")
	}

	if active != nil {
		fmt.Fprintf(&b, "Active ticket for this conversation: %s (status %s, subject %q). Mentions of \"my ticket\", \"my issue\" or \"my case\" refer to it.\n\n",
			active.ID, active.Status, active.Subject)
	} else {
		b.WriteString("This conversation has no ticket yet.\n\n")
	}

	fmt.Fprintf(&b, "User message: %s\n", message)
	return b.String()
}

// stripFences removes a surrounding markdown code fence from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
