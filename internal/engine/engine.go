package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/compose"
	"github.com/deskpilot/deskpilot/internal/knowledge"
	"github.com/deskpilot/deskpilot/internal/retrieval"
	"github.com/deskpilot/deskpilot/internal/router"
	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/ticket"
)

// Request is the inbound message payload the core accepts.
type Request struct {
	Query   string
	ChatID  string
	History []session.Turn
}

// Response is the outbound payload for one processed message.
type Response struct {
	Content        string
	Sources        []retrieval.Source
	Route          router.Route
	Sentiment      string
	TicketRef      string
	ProcessingTime time.Duration
	Timestamp      time.Time
}

// Completer is the answer-generation collaborator.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Engine wires the router, retriever, ticket machine and composer into the
// per-message control flow.
type Engine struct {
	cfg       *config.Config
	router    *router.Router
	retriever *retrieval.Retriever
	machine   *ticket.Machine
	sessions  session.Store
	indexer   *knowledge.Indexer
	completer Completer
	logger    *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg *config.Config, rt *router.Router, rv *retrieval.Retriever, m *ticket.Machine, sessions session.Store, ix *knowledge.Indexer, completer Completer) *Engine {
	return &Engine{
		cfg:       cfg,
		router:    rt,
		retriever: rv,
		machine:   m,
		sessions:  sessions,
		indexer:   ix,
		completer: completer,
		logger:    log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor serializes processing per chat id; different chats run in parallel.
func (e *Engine) lockFor(chatID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[chatID] = l
	}
	return l
}

// callCtx bounds one collaborator call.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.cfg.General.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Process handles one inbound message end to end. The returned error is
// non-nil only for persistence failures that the caller must not ignore; the
// Response is always usable for the user either way.
func (e *Engine) Process(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	l := e.lockFor(req.ChatID)
	l.Lock()
	defer l.Unlock()

	history := req.History
	if len(history) == 0 {
		if sess, ok, err := e.sessions.Get(ctx, req.ChatID); err == nil && ok {
			history = sess.Turns
		}
	}

	var active *ticket.Ticket
	if t, found, err := e.machine.Active(ctx, req.ChatID); err != nil {
		e.logger.Printf("active ticket lookup failed for chat %s: %v", req.ChatID, err)
	} else if found {
		active = &t
	}

	cctx, cancel := e.callCtx(ctx)
	decision := e.router.Classify(cctx, req.Query, history, active)
	cancel()

	var final compose.Final
	var persistErr error
	switch decision.Route {
	case router.RouteInformational:
		final = e.answerInformational(ctx, req.Query, history)
	case router.RouteEscalation:
		final, persistErr = e.handleEscalation(ctx, req, decision, active)
	case router.RouteTicketStatus:
		final = e.handleStatus(ctx, req, decision, active, history)
	case router.RouteSystemStatus:
		final = compose.Ticketed(router.RouteSystemStatus, e.systemStatus(), nil)
	case router.RouteAcknowledgment:
		final = compose.Ticketed(router.RouteAcknowledgment, compose.AcknowledgmentReply, nil)
	default:
		// Confused: no retrieval, no ticket state change, just ask for more.
		final = compose.Ticketed(router.RouteConfused, confusedReply, nil)
	}

	now := time.Now()
	if err := e.appendTurns(ctx, req, final, now); err != nil {
		// Never silently drop a turn the caller believes was recorded.
		e.logger.Printf("persistence failed for chat %s: %v", req.ChatID, err)
		persistErr = err
	}

	return Response{
		Content:        final.Content,
		Sources:        final.Sources,
		Route:          final.Route,
		Sentiment:      decision.Sentiment,
		TicketRef:      final.TicketRef,
		ProcessingTime: time.Since(start),
		Timestamp:      now,
	}, persistErr
}

func (e *Engine) appendTurns(ctx context.Context, req Request, final compose.Final, now time.Time) error {
	if err := e.sessions.AppendTurn(ctx, req.ChatID, session.Turn{
		Role: session.RoleUser, Content: req.Query, Timestamp: now, Type: "query",
	}); err != nil {
		return err
	}
	return e.sessions.AppendTurn(ctx, req.ChatID, session.Turn{
		Role: session.RoleAssistant, Content: final.Content, Timestamp: now, Type: string(final.Route),
	})
}

// answerInformational runs hybrid retrieval and grounds the model's answer in
// the retrieved context.
func (e *Engine) answerInformational(ctx context.Context, query string, history []session.Turn) compose.Final {
	rctx, cancel := e.callCtx(ctx)
	result, err := e.retriever.Retrieve(rctx, query, e.cfg.Retrieval.TopK)
	cancel()
	if err != nil {
		e.logger.Printf("retrieval failed: %v", err)
		return compose.Informational("I couldn't retrieve the requested information right now. Please try rephrasing your question or ask again in a moment.", nil, 0)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<context>\n%s\n</context>\n\n", result.Context())
	if len(history) > 0 {
		b.WriteString("<chat_history>\n")
		for _, t := range recentTurns(history, 4) {
			role := "User"
			if t.Role == session.RoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
		}
		b.WriteString("</chat_history>\n\n")
	}
	fmt.Fprintf(&b, "Customer question: %s\n", query)

	actx, cancel := e.callCtx(ctx)
	answer, err := e.completer.Complete(actx, answerSystemPrompt, b.String())
	cancel()
	if err != nil {
		e.logger.Printf("answer generation failed: %v", err)
		return compose.Fallback(router.RouteInformational)
	}
	return compose.Informational(answer, result.TopSources(e.cfg.Retrieval.MaxSources), e.cfg.Retrieval.MaxSources)
}

// escalationReply is the structured output of the escalation prompt.
type escalationReply struct {
	Subject  string `json:"subject"`
	Response string `json:"response"`
}

// handleEscalation drives the ticket state machine and produces the hand-off
// message. The ticket is created first so the reply can cite its id, then the
// subject and response snapshots are filled in.
func (e *Engine) handleEscalation(ctx context.Context, req Request, decision router.Decision, active *ticket.Ticket) (compose.Final, error) {
	res, err := e.machine.Escalate(ctx, req.ChatID, "", req.Query, "")
	if err != nil {
		e.logger.Printf("escalation failed for chat %s: %v", req.ChatID, err)
		return compose.Fallback(router.RouteEscalation), err
	}
	t := res.Ticket

	var b strings.Builder
	if res.Created {
		fmt.Fprintf(&b, "A NEW ticket was just opened.\nTicket ID: %s\nChat ID: %s\nUser sentiment: %s\n", t.ID, req.ChatID, decision.Sentiment)
	} else {
		fmt.Fprintf(&b, "The chat ALREADY has an active ticket.\nTicket ID: %s\nSubject: %s\nStatus: %s\nOpened: %s\nChat ID: %s\nUser sentiment: %s\n",
			t.ID, t.Subject, t.Status, t.CreatedAt.Format(time.RFC1123), req.ChatID, decision.Sentiment)
	}
	fmt.Fprintf(&b, "\nUser query: %s\n", req.Query)

	reply := escalationReply{
		Subject:  fallbackSubject(req.Query),
		Response: fmt.Sprintf("I've escalated this to our support team. Your Ticket ID is %s; please keep it together with your Chat ID (%s) for any follow-ups. Is there anything else I can help you with?", t.ID, req.ChatID),
	}
	cctx, cancel := e.callCtx(ctx)
	raw, err := e.completer.Complete(cctx, escalationSystemPrompt, b.String())
	cancel()
	if err != nil {
		e.logger.Printf("escalation reply generation failed, using canned text: %v", err)
	} else if perr := unmarshalReply(raw, &reply); perr != nil {
		e.logger.Printf("escalation reply unparseable, using canned text: %v", perr)
	}

	if res.Created {
		if _, err := e.machine.FillSnapshots(ctx, t.ID, reply.Subject, reply.Response); err != nil {
			e.logger.Printf("failed to fill ticket %s snapshots: %v", t.ID, err)
			return compose.Ticketed(router.RouteEscalation, reply.Response, &t), err
		}
		if err := e.sessions.SetActiveTicket(ctx, req.ChatID, t.ID); err != nil {
			e.logger.Printf("failed to link ticket %s to session %s: %v", t.ID, req.ChatID, err)
			return compose.Ticketed(router.RouteEscalation, reply.Response, &t), err
		}
	}
	return compose.Ticketed(router.RouteEscalation, reply.Response, &t), nil
}

// handleStatus answers ticket-status queries. Status is strictly read-only:
// it never transitions ticket state. History is the resolved conversation
// history, which may come from the session store rather than the request.
func (e *Engine) handleStatus(ctx context.Context, req Request, decision router.Decision, active *ticket.Ticket, history []session.Turn) compose.Final {
	if decision.TicketScope != router.ScopePast {
		if active == nil {
			return compose.Ticketed(router.RouteTicketStatus, compose.NoTicketReply, nil)
		}
		return compose.Ticketed(router.RouteTicketStatus, compose.TicketSummary(*active), active)
	}

	cctx, cancel := e.callCtx(ctx)
	ref, err := e.router.ExtractTicketRef(cctx, req.Query, recentTurns(history, 4))
	cancel()
	if err != nil {
		e.logger.Printf("ticket ref extraction failed: %v", err)
		return compose.Ticketed(router.RouteTicketStatus, "I couldn't read those ticket details. Please share the Chat ID and Ticket ID exactly as you received them.", nil)
	}
	if !ref.Complete {
		reply := ref.Reply
		if reply == "" {
			reply = "I need both IDs to look that up. Please provide the Chat ID and the Ticket ID."
		}
		return compose.Ticketed(router.RouteTicketStatus, reply, nil)
	}

	t, found, err := e.machine.Lookup(ctx, ref.TicketID)
	if err != nil {
		e.logger.Printf("ticket lookup failed for %s: %v", ref.TicketID, err)
		return compose.Fallback(router.RouteTicketStatus)
	}
	if !found || (ref.ChatID != "" && t.ChatID != ref.ChatID) {
		return compose.Ticketed(router.RouteTicketStatus,
			fmt.Sprintf("I couldn't find a ticket matching Chat ID %s and Ticket ID %s. Please double-check both IDs.", ref.ChatID, ref.TicketID), nil)
	}
	return compose.Ticketed(router.RouteTicketStatus, compose.TicketSummary(t), &t)
}

// systemStatus reports core readiness for system-status questions.
func (e *Engine) systemStatus() string {
	snap := e.indexer.Current()
	if snap == nil {
		return "The knowledge index is still warming up, so documentation answers may be unavailable for a short while. Ticketing and status lookups are operational."
	}
	return fmt.Sprintf("All systems operational. Knowledge base: %d indexed sections, last refreshed %s.",
		snap.Len(), snap.BuiltAt().Format("Jan 2 2006 15:04 MST"))
}

func recentTurns(history []session.Turn, n int) []session.Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// unmarshalReply parses structured model output, tolerating markdown fences.
func unmarshalReply(raw string, out *escalationReply) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	var parsed escalationReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &parsed); err != nil {
		return err
	}
	if parsed.Response == "" {
		return fmt.Errorf("empty response field")
	}
	if parsed.Subject != "" {
		out.Subject = parsed.Subject
	}
	out.Response = parsed.Response
	return nil
}

func fallbackSubject(query string) string {
	words := strings.Fields(query)
	if len(words) > 10 {
		words = words[:10]
	}
	return strings.Join(words, " ")
}
