package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"bulkload/internal/engine"
	"bulkload/internal/events"
	"bulkload/internal/loadtest"
	"bulkload/internal/logger"
	"bulkload/internal/metrics"
)

// Server はAPIサーバー
type Server struct {
	addr     string
	base     loadtest.Config
	bus      *events.Bus
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	mu           sync.RWMutex
	running      bool
	runner       *loadtest.Runner
	cancel       context.CancelFunc
	last         *loadtest.Result
	lastErr      error
	storeFactory loadtest.StoreFactory

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
// base は POST /api/run で上書きされる前の設定
func NewServer(addr string, base loadtest.Config) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := metrics.New()
	m.Attach(metrics.MustNewCollector(reg))

	return &Server{
		addr:     addr,
		base:     base,
		bus:      events.NewBus(),
		metrics:  m,
		registry: reg,
	}
}

// SetStoreFactory は実行ごとの Store の作成方法を差し替える
func (s *Server) SetStoreFactory(f loadtest.StoreFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeFactory = f
}

// Bus はイベントバスを返す
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/presets", s.handlePresets)

	// Prometheus
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始する
// ctx がキャンセルされると実行中のロードテストを中断してから停止する
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		s.stopRun()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.bus.Close()
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	loadtest.Status
	LastRun   *engine.RunMetrics `json:"last_run,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var resp StatusResponse
	if s.runner != nil {
		resp.Status = s.runner.Status()
	} else {
		resp.Name = s.base.Name
		resp.Backend = s.base.Backend
	}
	resp.Running = s.running
	if s.last != nil {
		run := s.last.Run
		resp.LastRun = &run
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// RunRequest はロードテスト開始リクエスト
type RunRequest struct {
	Preset      string `json:"preset,omitempty"`
	DataFile    string `json:"data_file"`
	Threads     int    `json:"threads,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, err := s.buildConfig(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Load test already running", http.StatusConflict)
		return
	}

	runner := loadtest.NewRunner(config)
	runner.SetEventBus(s.bus)
	runner.SetMetrics(s.metrics)
	runner.SetStoreFactory(s.storeFactory)

	ctx, cancel := context.WithCancel(context.Background())
	s.runner = runner
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		result, err := runner.Run(ctx)

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.lastErr = err
		if result != nil {
			s.last = result
		}
		s.mu.Unlock()

		switch {
		case errors.Is(err, engine.ErrWaitInterrupted):
			logger.Warn("", "Load test '%s' interrupted", config.Name)
		case err != nil:
			logger.Error("", "Load test failed: %v", err)
		default:
			logger.Info("", "Load test completed: %d records, %d succeeded",
				result.Run.Total, result.Run.Succeeded)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "name": config.Name})
}

func (s *Server) buildConfig(req RunRequest) (loadtest.Config, error) {
	config := s.base
	if req.Preset != "" {
		preset, ok := loadtest.GetPreset(req.Preset)
		if !ok {
			return config, errors.New("unknown preset: " + req.Preset)
		}
		config = preset
		if config.DataFile == "" {
			config.DataFile = s.base.DataFile
		}
	}

	if req.DataFile != "" {
		config.DataFile = req.DataFile
	}
	if req.Threads > 0 {
		config.Threads = req.Threads
	}
	if req.MaxAttempts > 0 {
		config.MaxAttempts = req.MaxAttempts
	}
	if req.Backend != "" {
		config.Backend = strings.ToLower(req.Backend)
	}

	if config.DataFile == "" {
		return config, errors.New("data_file is required")
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.stopRun() {
		http.Error(w, "No load test running", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stop requested"})
}

// stopRun は実行中のロードテストをキャンセルする
func (s *Server) stopRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := loadtest.ListPresets()
	presets := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		p, _ := loadtest.GetPreset(name)
		presets = append(presets, PresetInfo{Name: p.Name, Description: p.Description})
	}

	s.writeJSON(w, http.StatusOK, presets)
}

// handleWebSocket は接続ごとにイベントバスを購読して配信する
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	ch := s.bus.Subscribe()
	defer func() {
		s.bus.Unsubscribe(ch)
		_ = ws.Close()
	}()

	// クライアントの切断検知
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
