package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/meshforge/internal/artifact"
	"github.com/example/meshforge/internal/library"
	"github.com/example/meshforge/internal/observability"
	"github.com/example/meshforge/internal/pipeline"
	"github.com/example/meshforge/internal/render"
	"github.com/example/meshforge/pkg/forgeapi"
)

// maxUploadBytes caps a single library upload.
const maxUploadBytes = 8 << 20

type Server struct {
	pipeline *pipeline.Pipeline
	limiter  *submitLimiter
}

func NewServer(p *pipeline.Pipeline, submitRatePerMin int) *Server {
	return &Server{
		pipeline: p,
		limiter:  newSubmitLimiter(submitRatePerMin),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/hello", s.handleHello)
	mux.HandleFunc("/api/render", s.handleRender)
	mux.HandleFunc("/api/getstl", s.handleGetSTL)
	mux.HandleFunc("/api/view3d", s.handleView3D)
	mux.HandleFunc("/api/upload-library", s.handleUploadLibrary)
	mux.HandleFunc("/api/jobs/", s.handleJobByID)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	return withTracing(withCORS(withLogging(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.pipeline.Ping()})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, forgeapi.HelloResponse{Message: "meshforge API is running!"})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req forgeapi.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.limiter.allow(time.Now()) {
		writeError(w, http.StatusTooManyRequests, "render rate limit exceeded")
		return
	}
	res, err := s.pipeline.Render(r.Context(), req.ScadCode)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forgeapi.RenderResponse{StlPath: res.ArtifactRef, JobID: res.JobID})
}

func (s *Server) handleGetSTL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req forgeapi.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.limiter.allow(time.Now()) {
		writeError(w, http.StatusTooManyRequests, "render rate limit exceeded")
		return
	}
	_, fetch, err := s.pipeline.RenderAndFetch(r.Context(), req.ScadCode)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	defer fetch.Body.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="model`+extOf(fetch.ID)+`"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", fetch.Size))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, fetch.Body); err != nil {
		log.Printf("stream artifact %s: %v", fetch.ID, err)
	}
}

func (s *Server) handleView3D(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("file")
	fetch, err := s.pipeline.Fetch(id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	defer fetch.Body.Close()
	w.Header().Set("Content-Type", fetch.MIMEType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", fetch.Size))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, fetch.Body); err != nil {
		log.Printf("stream artifact %s: %v", fetch.ID, err)
	}
}

func (s *Server) handleUploadLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file part in the request")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload: "+err.Error())
		return
	}
	if err := s.pipeline.RegisterLibrary(header.Filename, content); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forgeapi.UploadLibraryResponse{
		Success: true,
		Message: fmt.Sprintf("Library file %s uploaded successfully", header.Filename),
	})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := r.URL.Path[len("/api/jobs/"):]
	if jobID == "" {
		writeError(w, http.StatusNotFound, "job id is required")
		return
	}
	job, ok, err := s.pipeline.JobStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, forgeapi.JobStatusResponse{
		JobID:      job.ID,
		Status:     job.Status,
		Message:    job.Message,
		ArtifactID: job.ArtifactID,
		CreatedAt:  job.CreatedAt.Format(http.TimeFormat),
		UpdatedAt:  job.UpdatedAt.Format(http.TimeFormat),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

// writePipelineError maps component errors onto the HTTP surface. Compiler
// diagnostics travel in a details field so the program's author sees them.
func writePipelineError(w http.ResponseWriter, err error) {
	var compileErr *render.CompileError
	switch {
	case errors.Is(err, pipeline.ErrEmptySource),
		errors.Is(err, library.ErrInvalidName),
		errors.Is(err, artifact.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, artifact.ErrNotFound):
		writeError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, render.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &compileErr):
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "compiler process failed",
			"details": compileErr.Stderr,
		})
	case errors.Is(err, render.ErrToolUnavailable):
		writeError(w, http.StatusInternalServerError, "geometry compiler not found")
	case errors.Is(err, render.ErrOutputMissing):
		writeError(w, http.StatusInternalServerError, "failed to generate artifact")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func extOf(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '.' {
			return id[i:]
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
