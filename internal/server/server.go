package server

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/engine"
	"github.com/deskpilot/deskpilot/internal/knowledge"
	"github.com/deskpilot/deskpilot/internal/retrieval"
	"github.com/deskpilot/deskpilot/internal/router"
	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/session/inmemory"
	redis_session "github.com/deskpilot/deskpilot/internal/session/redis"
	"github.com/deskpilot/deskpilot/internal/store"
	"github.com/deskpilot/deskpilot/internal/ticket"
	"github.com/deskpilot/deskpilot/provider"
)

var welcomeLines = []string{
	"Hello! How can I help you today?",
	"Hi there! What can I do for you?",
	"Welcome back! What would you like to know?",
	"Hey! Ask me anything about our product, or I can check on a ticket for you.",
}

// Run wires the whole application together and serves HTTP until the process
// exits.
func Run(cfgPath string) error {
	cfg := config.LoadConfig(cfgPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	indexer := knowledge.NewIndexer(cfg.Knowledge, llm)
	records, err := knowledge.LoadRecords(cfg.Knowledge.SourcePath)
	if err != nil {
		return fmt.Errorf("loading knowledge base %s: %w", cfg.Knowledge.SourcePath, err)
	}
	if err := indexer.Rebuild(ctx, records); err != nil {
		return fmt.Errorf("initial index build: %w", err)
	}

	// Hot session state lives in redis when configured so restarts and
	// replicas share history; postgres remains the durable copy.
	var rdb *redis.Client
	var sessions session.Store
	if cfg.Storage.Redis.Host != "" {
		rs := redis_session.NewStore(cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, 0)
		sessions = rs
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	} else {
		sessions = inmemory.NewStore()
	}

	machine := ticket.NewMachine(st)
	retriever := retrieval.New(cfg.Retrieval, indexer, llm)
	rt := router.New(cfg.Router, llm)
	eng := engine.New(cfg, rt, retriever, machine, sessions, indexer, llm)

	sched := NewScheduler(cfg.Knowledge, indexer, rdb)
	sched.Start()

	h := &Handler{
		Cfg:      cfg,
		Engine:   eng,
		Store:    st,
		Sessions: sessions,
		Indexer:  indexer,
	}
	h.Register(e)

	return e.Start(cfg.Server.Address)
}

// Handler holds the HTTP surface's dependencies.
type Handler struct {
	Cfg      *config.Config
	Engine   *engine.Engine
	Store    *store.Store
	Sessions session.Store
	Indexer  *knowledge.Indexer
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/welcome", h.welcome)
	e.GET("/status", h.status)
	e.POST("/query", h.query)
	e.GET("/tickets/:chat_id", h.tickets)
	e.POST("/sessions/persist", h.persistSession)
	e.POST("/reindex", h.reindex)
}

type queryRequest struct {
	Query   string         `json:"query"`
	ChatID  string         `json:"chat_id"`
	History []session.Turn `json:"history,omitempty"`
}

type queryResponse struct {
	Content        string             `json:"content"`
	Sources        []retrieval.Source `json:"sources,omitempty"`
	Route          router.Route       `json:"route"`
	Sentiment      string             `json:"sentiment"`
	TicketRef      string             `json:"ticket_ref,omitempty"`
	ProcessingTime string             `json:"processing_time"`
	Timestamp      time.Time          `json:"timestamp"`
}

func (h *Handler) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" || req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query and chat_id are required")
	}

	resp, err := h.Engine.Process(c.Request().Context(), engine.Request{
		Query:   req.Query,
		ChatID:  req.ChatID,
		History: req.History,
	})
	queriesTotal.WithLabelValues(string(resp.Route)).Inc()
	queryDuration.Observe(resp.ProcessingTime.Seconds())
	if resp.Route == router.RouteEscalation && resp.TicketRef != "" {
		ticketsOpened.Inc()
	}
	if err != nil {
		// The user-facing content is fine; the turn may not have persisted.
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record the conversation, please retry")
	}
	return c.JSON(http.StatusOK, queryResponse{
		Content:        resp.Content,
		Sources:        resp.Sources,
		Route:          resp.Route,
		Sentiment:      resp.Sentiment,
		TicketRef:      resp.TicketRef,
		ProcessingTime: resp.ProcessingTime.String(),
		Timestamp:      resp.Timestamp,
	})
}

// welcome opens a conversation: a fresh chat id plus a greeting.
func (h *Handler) welcome(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"chat_id": uuid.NewString(),
		"content": welcomeLines[rand.Intn(len(welcomeLines))],
	})
}

func (h *Handler) status(c echo.Context) error {
	snap := h.Indexer.Current()
	out := map[string]interface{}{
		"status":        "ok",
		"index_ready":   snap != nil,
		"chunks":        0,
		"top_k":         h.Cfg.Retrieval.TopK,
		"chunk_size":    h.Cfg.Knowledge.ChunkSize,
		"chunk_overlap": h.Cfg.Knowledge.ChunkOverlap,
	}
	if snap != nil {
		out["chunks"] = snap.Len()
		out["built_at"] = snap.BuiltAt()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) tickets(c echo.Context) error {
	chatID := c.Param("chat_id")
	list, err := h.Store.TicketsByChat(c.Request().Context(), chatID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "ticket lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"chat_id": chatID, "tickets": list})
}

type persistRequest struct {
	ChatID string `json:"chat_id"`
}

// persistSession copies a chat's hot session state into postgres. Called when
// the client ends a conversation.
func (h *Handler) persistSession(c echo.Context) error {
	var req persistRequest
	if err := c.Bind(&req); err != nil || req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	sess, ok, err := h.Sessions.Get(c.Request().Context(), req.ChatID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session read failed")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no session for chat_id")
	}
	if err := h.Store.Save(c.Request().Context(), sess); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session persist failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"chat_id": req.ChatID, "turns": len(sess.Turns)})
}

func (h *Handler) reindex(c echo.Context) error {
	records, err := knowledge.LoadRecords(h.Cfg.Knowledge.SourcePath)
	if err != nil {
		reindexTotal.WithLabelValues("failed").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, "loading knowledge base failed")
	}
	if err := h.Indexer.Rebuild(c.Request().Context(), records); err != nil {
		reindexTotal.WithLabelValues("failed").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, "rebuild failed, previous index kept")
	}
	reindexTotal.WithLabelValues("succeeded").Inc()
	snap := h.Indexer.Current()
	return c.JSON(http.StatusOK, map[string]interface{}{"chunks": snap.Len(), "built_at": snap.BuiltAt()})
}
