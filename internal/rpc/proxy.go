package rpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/ccheney/cream-sub002/internal/alpaca"
	"github.com/ccheney/cream-sub002/internal/hub"
)

// FeedStatusProvider reports per-feed connection state for the status RPC.
type FeedStatusProvider interface {
	Statuses() []FeedStatus
}

// ProxyServer is the market-data fan-out service. Each streaming call owns
// its hub subscription and its contribution to the desired subscription
// set; both vanish when the call ends.
type ProxyServer struct {
	hub    *hub.Hub
	subs   *alpaca.SubscriptionManager
	status FeedStatusProvider
	log    zerolog.Logger
}

func NewProxyServer(h *hub.Hub, subs *alpaca.SubscriptionManager, status FeedStatusProvider, log zerolog.Logger) *ProxyServer {
	return &ProxyServer{
		hub:    h,
		subs:   subs,
		status: status,
		log:    log.With().Str("component", "proxy_rpc").Logger(),
	}
}

// ProxyServiceDesc is the hand-rolled descriptor for the StreamProxy
// service (the generated-stub interface named by the design).
var ProxyServiceDesc = grpc.ServiceDesc{
	ServiceName: "cream.streamproxy.v1.StreamProxy",
	HandlerType: (*proxyService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetConnectionStatus", Handler: getConnectionStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamQuotes", Handler: streamQuotesHandler, ServerStreams: true},
		{StreamName: "StreamTrades", Handler: streamTradesHandler, ServerStreams: true},
		{StreamName: "StreamBars", Handler: streamBarsHandler, ServerStreams: true},
		{StreamName: "StreamOptionQuotes", Handler: streamOptionQuotesHandler, ServerStreams: true},
		{StreamName: "StreamOptionTrades", Handler: streamOptionTradesHandler, ServerStreams: true},
		{StreamName: "StreamOrderUpdates", Handler: streamOrderUpdatesHandler, ServerStreams: true},
	},
	Metadata: "cream/streamproxy/v1/streamproxy.proto",
}

// proxyService pins the handler type for the descriptor.
type proxyService interface {
	getConnectionStatus(context.Context, *ConnectionStatusRequest) (*ConnectionStatusResponse, error)
}

func (s *ProxyServer) getConnectionStatus(_ context.Context, _ *ConnectionStatusRequest) (*ConnectionStatusResponse, error) {
	if s.status == nil {
		return &ConnectionStatusResponse{}, nil
	}
	return &ConnectionStatusResponse{Feeds: s.status.Statuses()}, nil
}

func getConnectionStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ConnectionStatusRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*ProxyServer).getConnectionStatus(ctx, req.(*ConnectionStatusRequest))
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/cream.streamproxy.v1.StreamProxy/GetConnectionStatus",
	}, handler)
}

// serveTopic is the shared server-streaming loop: register interest,
// subscribe to the topic, forward matching events until the call ends.
func (s *ProxyServer) serveTopic(stream grpc.ServerStream, topic hub.Topic, kind alpaca.StreamKind, convert func(alpaca.Event) (interface{}, bool)) error {
	var req StreamRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	filter := newEventFilter(req)

	// The subscription set only tracks explicit symbols; an empty filter
	// streams whatever the union of other subscribers brings in.
	interest := append(append([]string(nil), req.Symbols...), req.Underlyings...)
	if len(interest) > 0 {
		release := s.subs.Acquire(kind, interest)
		defer release()
	}

	sub, cancel := s.hub.Subscribe(topic)
	defer cancel()

	ctx := stream.Context()
	s.log.Debug().Str("topic", string(topic)).Int("symbols", len(interest)).Msg("stream opened")
	defer s.log.Debug().Str("topic", string(topic)).Msg("stream closed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !filter.matchEvent(ev) {
				continue
			}
			msg, ok := convert(ev)
			if !ok {
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func streamQuotesHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*ProxyServer).serveTopic(stream, hub.TopicStockQuotes, alpaca.StreamStockQuotes,
		func(ev alpaca.Event) (interface{}, bool) {
			if ev.Quote == nil {
				return nil, false
			}
			m := quoteMsg(*ev.Quote)
			return &m, true
		})
}

func streamTradesHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*ProxyServer).serveTopic(stream, hub.TopicStockTrades, alpaca.StreamStockTrades,
		func(ev alpaca.Event) (interface{}, bool) {
			if ev.Trade == nil {
				return nil, false
			}
			m := tradeMsg(*ev.Trade)
			return &m, true
		})
}

func streamBarsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*ProxyServer).serveTopic(stream, hub.TopicStockBars, alpaca.StreamStockBars,
		func(ev alpaca.Event) (interface{}, bool) {
			if ev.Bar == nil {
				return nil, false
			}
			m := barMsg(*ev.Bar)
			return &m, true
		})
}

func streamOptionQuotesHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*ProxyServer).serveTopic(stream, hub.TopicOptionQuotes, alpaca.StreamOptionQuotes,
		func(ev alpaca.Event) (interface{}, bool) {
			if ev.Quote == nil {
				return nil, false
			}
			m := quoteMsg(*ev.Quote)
			return &m, true
		})
}

func streamOptionTradesHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*ProxyServer).serveTopic(stream, hub.TopicOptionTrades, alpaca.StreamOptionTrades,
		func(ev alpaca.Event) (interface{}, bool) {
			if ev.Trade == nil {
				return nil, false
			}
			m := tradeMsg(*ev.Trade)
			return &m, true
		})
}

func streamOrderUpdatesHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*ProxyServer).serveTopic(stream, hub.TopicOrderUpdates, alpaca.StreamOrderUpdates,
		func(ev alpaca.Event) (interface{}, bool) {
			if ev.OrderUpdate == nil {
				return nil, false
			}
			m := orderUpdateMsg(*ev.OrderUpdate)
			return &m, true
		})
}
