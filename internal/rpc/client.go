package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// ProxyClient consumes the stream proxy from another process (the execution
// engine's quote source). It speaks the same JSON content subtype the
// server forces.
type ProxyClient struct {
	conn *grpc.ClientConn
}

// DialProxy connects to the stream proxy with the platform's keepalive and
// backoff settings.
func DialProxy(addr string) (*ProxyClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  200 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   3 * time.Second,
			},
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                20 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial stream proxy %s: %w", addr, err)
	}
	return &ProxyClient{conn: conn}, nil
}

func (c *ProxyClient) Close() error {
	return c.conn.Close()
}

// StreamQuotes opens a server stream and invokes handler for each quote
// until ctx cancels or the stream breaks.
func (c *ProxyClient) StreamQuotes(ctx context.Context, symbols []string, handler func(domain.Quote)) error {
	desc := &grpc.StreamDesc{StreamName: "StreamQuotes", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/cream.streamproxy.v1.StreamProxy/StreamQuotes")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&StreamRequest{Symbols: symbols}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		var msg QuoteMsg
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		handler(domain.Quote{
			Symbol:    msg.Symbol,
			BidPrice:  domain.MoneyFromFloat(msg.BidPrice),
			BidSize:   domain.QuantityFromFloat(msg.BidSize),
			AskPrice:  domain.MoneyFromFloat(msg.AskPrice),
			AskSize:   domain.QuantityFromFloat(msg.AskSize),
			Exchange:  msg.Exchange,
			Timestamp: msg.Timestamp,
		})
	}
}

// ConnectionStatus queries the proxy's per-feed session states.
func (c *ProxyClient) ConnectionStatus(ctx context.Context) (*ConnectionStatusResponse, error) {
	resp := &ConnectionStatusResponse{}
	err := c.conn.Invoke(ctx, "/cream.streamproxy.v1.StreamProxy/GetConnectionStatus",
		&ConnectionStatusRequest{}, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
