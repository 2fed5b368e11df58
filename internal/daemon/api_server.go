package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"overdub/internal/config"
	"overdub/internal/history"
	"overdub/internal/logging"
	"overdub/internal/pipeline"
	"overdub/internal/preflight"
	"overdub/internal/services"
	"overdub/internal/textutil"
)

const (
	// maxUploadBytes caps a single uploaded source video.
	maxUploadBytes int64 = 8 << 30
	// multipartMemory is the part of a multipart upload kept in memory
	// before spilling to temporary files.
	multipartMemory int64 = 32 << 20

	wsWriteWait = 10 * time.Second
)

type apiServer struct {
	cfg      *config.Config
	logger   *slog.Logger
	daemon   *Daemon
	router   chi.Router
	upgrader websocket.Upgrader
	now      func() time.Time

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		now:    time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *apiServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware(strings.TrimSpace(s.cfg.Paths.APIToken)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Delete("/", s.handleForgetRun)
				r.Post("/cancel", s.handleCancelRun)
				r.Get("/result", s.handleResult)
				r.Get("/events", s.handleEvents)
			})
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Paths.APIBind)
	if bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// Uploads, downloads, and event streams are long-lived, so only headers
	// and idle connections are bounded.
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error",
				logging.String(logging.FieldEventType, "api_server_failed"),
				logging.Error(err),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = services.WithRequestID(ctx, id)
			r = r.WithContext(ctx)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logging.WithContext(ctx, s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

type createRunResponse struct {
	ID string `json:"id"`
}

type runListResponse struct {
	Runs []pipeline.Snapshot `json:"runs"`
}

type historyResponse struct {
	Entries []history.Entry        `json:"entries"`
	Stats   map[pipeline.State]int `json:"stats"`
}

type statusResponse struct {
	Daemon    Status           `json:"daemon"`
	Preflight preflight.Report `json:"preflight"`
	Ready     bool             `json:"ready"`
}

func (s *apiServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode, err := pipeline.ParseMode(query.Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	input, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if name := strings.TrimSpace(query.Get("name")); name != "" {
		input.Name = name
	}

	srt, _ := strconv.ParseBool(query.Get("srt"))
	id, err := s.daemon.runs.Start(r.Context(), input, mode, pipeline.StartOptions{
		Target:    query.Get("target"),
		Language:  query.Get("language"),
		ExportSRT: srt,
	})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, createRunResponse{ID: id})
}

// readUpload accepts either a multipart form with a "file" field or the raw
// video as the request body.
func readUpload(r *http.Request) (pipeline.Input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return pipeline.Input{}, fmt.Errorf("parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("multipart field \"file\": %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("read upload: %w", err)
		}
		return pipeline.Input{Data: data, Name: filepath.Base(header.Filename)}, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("read body: %w", err)
	}
	return pipeline.Input{Data: data}, nil
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, runListResponse{Runs: s.daemon.runs.List()})
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.daemon.runs.Progress(chi.URLParam(r, "id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleForgetRun(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.runs.Forget(chi.URLParam(r, "id")); err != nil {
		s.writeRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.runs.Cancel(id); err != nil {
		s.writeRunError(w, err)
		return
	}
	snap, err := s.daemon.runs.Progress(id)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.daemon.runs.Progress(id)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	out, err := s.daemon.runs.Result(id)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if out == nil {
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "run not completed",
			"state":    snap.State,
			"progress": snap.Progress,
		})
		return
	}

	file, err := os.Open(out.Path)
	if err != nil {
		s.writeError(w, http.StatusGone, "output no longer available")
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat output")
		return
	}

	name := downloadName(snap, out, s.now())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

// downloadName builds <basename>_<mode>_<timestamp>.<ext> for a finished run.
func downloadName(snap pipeline.Snapshot, out *pipeline.Output, now time.Time) string {
	base := textutil.FileStem(snap.Name, "video")
	ext := strings.TrimPrefix(filepath.Ext(out.Path), ".")
	if ext == "" {
		ext = out.Container
	}
	stamp := snap.FinishedAt
	if stamp.IsZero() {
		stamp = now
	}
	return fmt.Sprintf("%s_%s_%s.%s", base, snap.Mode, stamp.UTC().Format("20060102-150405"), ext)
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, unsubscribe, err := s.daemon.runs.Subscribe(id)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logging.String(logging.FieldEventType, "websocket_upgrade_failed"),
			logging.Error(err),
		)
		return
	}
	defer conn.Close()

	// The read loop only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := preflight.Run(r.Context(), s.cfg, preflight.Options{})
	s.writeJSON(w, http.StatusOK, statusResponse{
		Daemon:    s.daemon.Status(),
		Preflight: report,
		Ready:     report.Ready(),
	})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	store := s.daemon.history
	if store == nil {
		s.writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	opts := history.ListOptions{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	for _, state := range r.URL.Query()["state"] {
		opts.States = append(opts.States, pipeline.State(strings.ToLower(strings.TrimSpace(state))))
	}

	entries, err := store.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := store.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Stats: stats})
}

func (s *apiServer) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrRunActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case services.KindOf(err) == services.KindInput:
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("run request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
