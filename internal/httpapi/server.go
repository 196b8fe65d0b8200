// Package httpapi mirrors the execution engine's gRPC surface as HTTP/JSON
// with the same payload semantics, mapping status codes per the shared
// table. It also serves the health endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"

	"github.com/ccheney/cream-sub002/internal/rpc"
)

// Server adapts the engine RPC service onto HTTP.
type Server struct {
	engine *rpc.EngineServer
	log    zerolog.Logger
}

func New(engine *rpc.EngineServer, log zerolog.Logger) *Server {
	return &Server{
		engine: engine,
		log:    log.With().Str("component", "http").Logger(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/check-constraints", handle(s, (*rpc.EngineServer).CheckConstraints))
	mux.HandleFunc("POST /v1/submit-orders", handle(s, (*rpc.EngineServer).SubmitOrders))
	mux.HandleFunc("POST /v1/order-state", handle(s, (*rpc.EngineServer).GetOrderState))
	mux.HandleFunc("POST /v1/cancel-orders", handle(s, (*rpc.EngineServer).CancelOrders))
	mux.HandleFunc("GET /health", s.health)
	return mux
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handle adapts one unary RPC method onto a JSON POST route.
func handle[Req any, Resp any](s *Server, invoke func(*rpc.EngineServer, context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, rpc.ErrorBody{
				Code:    rpc.CodeInvalidRequest,
				Domain:  "http",
				Message: "malformed JSON body: " + err.Error(),
			})
			return
		}

		resp, err := invoke(s.engine, r.Context(), &req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(err)
	httpStatus := rpc.HTTPStatusFor(st.Code())

	if body, ok := rpc.DecodeErrorBody(st.Message()); ok {
		writeJSON(w, httpStatus, body)
		return
	}
	writeJSON(w, httpStatus, rpc.ErrorBody{
		Code:    rpc.CodeInternalError,
		Domain:  "http",
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
