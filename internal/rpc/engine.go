package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/engine"
)

// MarketData is the slice of the broker data API the engine service needs.
type MarketData interface {
	GetBars(ctx context.Context, symbols []string, timeframe string, start, end time.Time, limit int) (map[string][]broker.BarResponse, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]broker.QuoteResponse, error)
	GetOptionChain(ctx context.Context, underlying string) ([]broker.OptionContractResponse, error)
}

// EngineServer is the execution engine's RPC surface.
type EngineServer struct {
	engine *engine.Engine
	data   MarketData
	env    domain.Environment
	log    zerolog.Logger
}

func NewEngineServer(eng *engine.Engine, data MarketData, env domain.Environment, log zerolog.Logger) *EngineServer {
	return &EngineServer{
		engine: eng,
		data:   data,
		env:    env,
		log:    log.With().Str("component", "engine_rpc").Logger(),
	}
}

// EngineServiceDesc is the hand-rolled descriptor for ExecutionEngine.
var EngineServiceDesc = grpc.ServiceDesc{
	ServiceName: "cream.execution.v1.ExecutionEngine",
	HandlerType: (*engineService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitOrders", Handler: submitOrdersHandler},
		{MethodName: "CheckConstraints", Handler: checkConstraintsHandler},
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "GetOptionChain", Handler: getOptionChainHandler},
		{MethodName: "CancelOrders", Handler: cancelOrdersHandler},
		{MethodName: "GetOrderState", Handler: getOrderStateHandler},
	},
	Metadata: "cream/execution/v1/execution.proto",
}

type engineService interface {
	SubmitOrders(context.Context, *SubmitOrdersRequest) (*SubmitOrdersResponse, error)
	CheckConstraints(context.Context, *CheckConstraintsRequest) (*CheckConstraintsResponse, error)
	GetSnapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
	GetOptionChain(context.Context, *OptionChainRequest) (*OptionChainResponse, error)
	CancelOrders(context.Context, *CancelOrdersRequest) (*CancelOrdersResponse, error)
	GetOrderState(context.Context, *OrderStateRequest) (*OrderStateResponse, error)
}

func (s *EngineServer) SubmitOrders(ctx context.Context, req *SubmitOrdersRequest) (*SubmitOrdersResponse, error) {
	if req.Environment != "" && domain.Environment(req.Environment) != s.env {
		return nil, StatusError(CodeInvalidEnvironment, "engine",
			"request environment does not match engine environment", map[string]string{
				"expected": string(s.env),
				"actual":   req.Environment,
			})
	}
	plan, err := decodePlan(req.Plan)
	if err != nil {
		return nil, err
	}
	if len(plan.Decisions) == 0 {
		return nil, StatusError(CodeInvalidRequest, "plan", "plan has no decisions", nil)
	}

	result, outcomes, err := s.engine.SubmitPlan(ctx, plan)
	if err != nil && !errors.Is(err, engine.ErrPlanNotApproved) {
		return nil, MapError(err)
	}

	resp := &SubmitOrdersResponse{Result: result}
	for _, o := range outcomes {
		resp.Outcomes = append(resp.Outcomes, outcomeMsg(o))
	}
	if errors.Is(err, engine.ErrPlanNotApproved) {
		// The report is the answer; the caller inspects result.passed.
		return resp, nil
	}
	return resp, nil
}

func (s *EngineServer) CheckConstraints(ctx context.Context, req *CheckConstraintsRequest) (*CheckConstraintsResponse, error) {
	plan, err := decodePlan(req.Plan)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.CheckConstraints(ctx, plan)
	if err != nil {
		return nil, MapError(err)
	}
	return &CheckConstraintsResponse{Result: result}, nil
}

func (s *EngineServer) GetSnapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	if len(req.Symbols) == 0 {
		return nil, StatusError(CodeInvalidRequest, "marketdata", "symbols are required", nil)
	}

	resp := &SnapshotResponse{Quotes: make(map[string]QuoteMsg)}

	quotes, err := s.data.GetQuotes(ctx, req.Symbols)
	if err != nil {
		return nil, MapError(err)
	}
	for sym, q := range quotes {
		resp.Quotes[sym] = QuoteMsg{
			Symbol:    sym,
			BidPrice:  q.BidPrice.InexactFloat64(),
			BidSize:   q.BidSize.InexactFloat64(),
			AskPrice:  q.AskPrice.InexactFloat64(),
			AskSize:   q.AskSize.InexactFloat64(),
			Timestamp: q.Timestamp,
		}
	}

	if len(req.Timeframes) > 0 {
		resp.Bars = make(map[string]map[string][]BarMsg)
		for _, tf := range req.Timeframes {
			bars, err := s.data.GetBars(ctx, req.Symbols, tf, time.Time{}, time.Time{}, 100)
			if err != nil {
				return nil, MapError(err)
			}
			for sym, sbars := range bars {
				if resp.Bars[sym] == nil {
					resp.Bars[sym] = make(map[string][]BarMsg)
				}
				out := make([]BarMsg, 0, len(sbars))
				for _, b := range sbars {
					out = append(out, BarMsg{
						Symbol:    sym,
						Open:      b.Open.InexactFloat64(),
						High:      b.High.InexactFloat64(),
						Low:       b.Low.InexactFloat64(),
						Close:     b.Close.InexactFloat64(),
						Volume:    b.Volume.InexactFloat64(),
						VWAP:      b.VWAP.InexactFloat64(),
						Timestamp: b.Timestamp,
					})
				}
				resp.Bars[sym][tf] = out
			}
		}
	}
	return resp, nil
}

func (s *EngineServer) GetOptionChain(ctx context.Context, req *OptionChainRequest) (*OptionChainResponse, error) {
	if req.Underlying == "" {
		return nil, StatusError(CodeInvalidRequest, "marketdata", "underlying is required", nil)
	}
	contracts, err := s.data.GetOptionChain(ctx, req.Underlying)
	if err != nil {
		return nil, MapError(err)
	}
	resp := &OptionChainResponse{Underlying: req.Underlying}
	for _, c := range contracts {
		resp.Contracts = append(resp.Contracts, OptionContractMsg{
			Symbol:     c.Symbol,
			Expiration: c.ExpirationDate,
			Strike:     c.StrikePrice.String(),
			Type:       c.Type,
		})
	}
	return resp, nil
}

func (s *EngineServer) CancelOrders(ctx context.Context, req *CancelOrdersRequest) (*CancelOrdersResponse, error) {
	if len(req.ClientOrderIDs) == 0 {
		return nil, StatusError(CodeInvalidRequest, "orders", "client_order_ids are required", nil)
	}
	reason := req.Reason
	if reason == "" {
		reason = "caller requested cancel"
	}

	outcomes := s.engine.CancelOrders(ctx, req.ClientOrderIDs, reason)
	resp := &CancelOrdersResponse{}
	for _, o := range outcomes {
		msg := CancelOutcomeMsg{ClientOrderID: o.ClientOrderID, Status: string(o.Status)}
		if o.Err != nil {
			msg.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, msg)
	}
	return resp, nil
}

func (s *EngineServer) GetOrderState(_ context.Context, req *OrderStateRequest) (*OrderStateResponse, error) {
	if req.ClientOrderID == "" {
		return nil, StatusError(CodeInvalidRequest, "orders", "client_order_id is required", nil)
	}
	order, err := s.engine.OrderState(req.ClientOrderID)
	if err != nil {
		return nil, MapError(err)
	}
	resp := orderStateResponse(order)
	return &resp, nil
}

// ---- unary handler plumbing ----

func unaryHandler[Req any, Resp any](method string, invoke func(*EngineServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	full := "/cream.execution.v1.ExecutionEngine/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, r interface{}) (interface{}, error) {
			return invoke(srv.(*EngineServer), ctx, r.(*Req))
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, handler)
	}
}

var (
	submitOrdersHandler = unaryHandler("SubmitOrders", (*EngineServer).SubmitOrders)
	checkConstraintsHandler = unaryHandler("CheckConstraints", (*EngineServer).CheckConstraints)
	getSnapshotHandler  = unaryHandler("GetSnapshot", (*EngineServer).GetSnapshot)
	getOptionChainHandler = unaryHandler("GetOptionChain", (*EngineServer).GetOptionChain)
	cancelOrdersHandler = unaryHandler("CancelOrders", (*EngineServer).CancelOrders)
	getOrderStateHandler = unaryHandler("GetOrderState", (*EngineServer).GetOrderState)
)
