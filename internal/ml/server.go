package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lsfts/internal/dataset"

	"github.com/rs/zerolog/log"
)

// Server exposes a Model over HTTP so the training loop can drive a model
// living in another process.
type Server struct {
	mu        sync.RWMutex
	model     Model
	construct Constructor
	server    *http.Server
	mux       *http.ServeMux
}

type inferRequest struct {
	X          dataset.Features `json:"x"`
	Stochastic bool             `json:"stochastic"`
}

type predictRequest struct {
	X         dataset.Features `json:"x"`
	BatchSize int              `json:"batch_size"`
}

type evaluateRequest struct {
	X dataset.Features `json:"x"`
	Y []int            `json:"y"`
}

type weightsRequest struct {
	Path string `json:"path"`
}

type resetRequest struct {
	Config ModelConfig `json:"config"`
	// Schedule is not serializable; the polynomial decay parameters travel
	// separately.
	Decay *PolynomialDecay `json:"decay,omitempty"`
}

type logitsResponse struct {
	Logits [][]float64 `json:"logits"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates an HTTP server for the model listening on port.
func NewServer(model Model, port int) *Server {
	s := &Server{model: model, mux: http.NewServeMux()}

	s.mux.HandleFunc("/v1/infer", s.handleInfer)
	s.mux.HandleFunc("/v1/predict", s.handlePredict)
	s.mux.HandleFunc("/v1/fit", s.handleFit)
	s.mux.HandleFunc("/v1/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("/v1/weights/save", s.handleSave)
	s.mux.HandleFunc("/v1/weights/load", s.handleLoad)
	s.mux.HandleFunc("/v1/reset", s.handleReset)
	s.mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// WithConstructor enables POST /v1/reset, which replaces the served model
// with a freshly constructed one.
func (s *Server) WithConstructor(c Constructor) *Server {
	s.construct = c
	return s
}

func (s *Server) current() Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Handler returns the server's routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting model server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if !decode(w, r, &req) {
		return
	}
	logits, err := s.current().InferBatch(r.Context(), req.X, req.Stochastic)
	if err != nil {
		log.Error().Err(err).Int("rows", req.X.Len()).Msg("inference failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logitsResponse{Logits: logits})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decode(w, r, &req) {
		return
	}
	logits, err := s.current().Predict(r.Context(), req.X, req.BatchSize)
	if err != nil {
		log.Error().Err(err).Int("rows", req.X.Len()).Msg("prediction failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logitsResponse{Logits: logits})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if !decode(w, r, &req) {
		return
	}
	hist, err := s.current().Fit(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Int("rows", req.X.Len()).Msg("fit failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := s.current().Evaluate(r.Context(), req.X, req.Y)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.current().SaveWeights(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.current().LoadWeights(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if s.construct == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("server has no model constructor"))
		return
	}
	if req.Decay != nil {
		req.Config.Schedule = *req.Decay
	}
	m, err := s.construct(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	log.Info().Uint64("seed", req.Config.Seed).Int("classes", req.Config.Classes).Msg("model reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
