// Package web implements the HTTP server for votechain mini. It routes the
// voting API, serves a small dashboard and the rendered docs, and streams
// sealed blocks and log lines over websockets.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"votechain.mini/vcm/internal/api"
	"votechain.mini/vcm/internal/docs"
	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/types"
	"votechain.mini/vcm/internal/voting"
)

const dashboardBlocks = 20

// TemplateData holds the data to be passed to the HTML templates.
type TemplateData struct {
	Version    string
	BuildTime  string
	Status     ledger.Status
	Blocks     []BlockEvent
	DocList    []string
	DocContent template.HTML
	CurrentDoc string
}

// Server is the web server for the dashboard and API.
type Server struct {
	port       int
	voting     *voting.Service
	apiService *api.Service
	docService *docs.Service
	hub        *Hub
	logger     *logger.Logger
	templates  *template.Template
	limiter    *limiters
	httpServer *http.Server
}

// NewServer creates a new web server. hub must be the one registered as the
// ledger's OnSeal hook.
func NewServer(port int, v *voting.Service, apiService *api.Service, docService *docs.Service, hub *Hub, logger *logger.Logger) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		port:       port,
		voting:     v,
		apiService: apiService,
		docService: docService,
		hub:        hub,
		logger:     logger,
		templates:  templates,
	}
	s.logger.Info("VCM server initialized")
	return s, nil
}

// SetRateLimit caps POST requests per client host at limit per second with
// the given burst. A limit of zero or less disables the cap. Call before
// Start or Router.
func (s *Server) SetRateLimit(limit float64, burst int) {
	if limit <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = newLimiters(limit, burst)
}

// Router builds the request router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	r.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	r.HandleFunc("/docs/{doc}", s.handleDocs).Methods(http.MethodGet)

	// Voting endpoints on their legacy flat paths.
	r.HandleFunc("/create_poll", s.apiService.HandleCreatePoll).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/vote", s.apiService.HandleVote).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/poll_status/{poll_id}", s.apiService.HandlePollStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/results", s.apiService.HandleResults).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/end_poll", s.apiService.HandleEndPoll).Methods(http.MethodPost, http.MethodOptions)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/health", s.apiService.HandleHealth).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/version", s.apiService.HandleVersion).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/logs", s.apiService.HandleLogs).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/status", s.apiService.HandleStatus).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/chain", s.apiService.HandleChain).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/chain/verify", s.apiService.HandleVerify).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/chain/export", s.apiService.HandleExportChain).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/chain/flush", s.apiService.HandleFlush).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/chain/{index:[0-9]+}", s.apiService.HandleBlock).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/backup", s.apiService.HandleBackup).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/ws/blocks", s.hub.serveBlocks)
	r.HandleFunc("/ws/status", s.handleStatusWS)

	return r
}

// Start runs the server in the background. The channel yields the listen
// error, or nil after Shutdown.
func (s *Server) Start() <-chan error {
	log.Printf("Web UI: Starting dashboard and API server on http://localhost:%d", s.port)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()

	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.setCacheHeaders(w)

	l := s.voting.Ledger()
	chain := l.Chain()
	start := len(chain) - dashboardBlocks
	if start < 0 {
		start = 0
	}
	blocks := make([]BlockEvent, 0, len(chain)-start)
	for i := len(chain) - 1; i >= start; i-- {
		blocks = append(blocks, BlockEvent{Block: chain[i], Hash: ledger.Digest(chain[i])})
	}

	s.render(w, "layout.html", TemplateData{
		Version:   types.Version,
		BuildTime: types.BuildTime,
		Status:    l.Status(),
		Blocks:    blocks,
	})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	s.setCacheHeaders(w)

	docName := mux.Vars(r)["doc"]
	docList, _ := s.docService.ListDocs()

	var docContent string
	if docName != "" {
		content, err := s.docService.GetDoc(r.Context(), docName)
		if err != nil {
			if errors.Is(err, docs.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			s.logger.Error(fmt.Sprintf("Failed to load doc %s: %v", docName, err))
			http.Error(w, "Failed to render doc", http.StatusInternalServerError)
			return
		}
		docContent = content
	}

	s.render(w, "docs.html", TemplateData{
		Version:    types.Version,
		BuildTime:  types.BuildTime,
		DocList:    docList,
		DocContent: template.HTML(docContent),
		CurrentDoc: docName,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data TemplateData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("Error executing %s template: %s", name, err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleStatusWS streams log messages: recent history first, then new
// messages as they arrive.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// GetRecent returns newest first; send oldest first.
	initialLogs := s.logger.GetRecent(50)
	for i := len(initialLogs) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(initialLogs[i]); err != nil {
			return
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastLogTime time.Time
	if len(initialLogs) > 0 {
		lastLogTime = initialLogs[0].Timestamp
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			recent := s.logger.GetRecent(20)

			var newLogs []logger.Message
			for _, msg := range recent {
				if msg.Timestamp.After(lastLogTime) {
					newLogs = append(newLogs, msg)
				}
			}

			for i := len(newLogs) - 1; i >= 0; i-- {
				msg := newLogs[i]
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				if msg.Timestamp.After(lastLogTime) {
					lastLogTime = msg.Timestamp
				}
			}
		}
	}
}

// setCacheHeaders sets cache-busting headers to prevent browser caching.
func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
