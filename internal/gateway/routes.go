package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /plugins", s.handlePlugins)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("run.state", s.rpcRunState)
	s.Handle("plugins.list", s.rpcPluginsList)
	s.Handle("trace.subscribe", s.rpcTraceSubscribe)
	s.Handle("trace.unsubscribe", s.rpcTraceUnsubscribe)
	if s.traces != nil {
		s.Handle("trace.runs", s.rpcTraceRuns)
		s.Handle("trace.records", s.rpcTraceRecords)
		s.Handle("trace.search", s.rpcTraceSearch)
	}
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health())
}

func (s *Server) rpcRunState(rc *RequestContext) {
	rc.Respond(s.Snapshot())
}

func (s *Server) rpcPluginsList(rc *RequestContext) {
	snap := s.Snapshot()
	rc.Respond(map[string]any{"plugins": snap.Plugins, "inactive": snap.Inactive})
}

func (s *Server) rpcTraceSubscribe(rc *RequestContext) {
	rc.Client.SetTraced(true)
	rc.Respond(map[string]any{"trace": true})
}

func (s *Server) rpcTraceUnsubscribe(rc *RequestContext) {
	rc.Client.SetTraced(false)
	rc.Respond(map[string]any{"trace": false})
}

type traceRunsParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) rpcTraceRuns(rc *RequestContext) {
	var p traceRunsParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	runs, err := s.traces.Runs(p.Limit)
	if err != nil {
		rc.RespondError(CodeStore, err.Error())
		return
	}
	rc.Respond(map[string]any{"runs": runs})
}

type traceRecordsParams struct {
	Run   string `json:"run"`
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) rpcTraceRecords(rc *RequestContext) {
	var p traceRecordsParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Run == "" {
		rc.RespondError(CodeInvalidParams, "run is required")
		return
	}
	recs, err := s.traces.Records(p.Run)
	if err != nil {
		rc.RespondError(CodeStore, err.Error())
		return
	}
	rc.Respond(map[string]any{"run": p.Run, "records": recs})
}

func (s *Server) rpcTraceSearch(rc *RequestContext) {
	var p traceRecordsParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Run == "" || p.Query == "" {
		rc.RespondError(CodeInvalidParams, "run and query are required")
		return
	}
	recs, err := s.traces.Search(p.Run, p.Query, p.Limit)
	if err != nil {
		rc.RespondError(CodeInvalidQuery, err.Error())
		return
	}
	rc.Respond(map[string]any{"run": p.Run, "records": recs})
}
