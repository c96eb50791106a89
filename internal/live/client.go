package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// StreamClient connects to a bridge event stream and hands every message to
// a callback. It tracks the last sequence id seen so a reconnect resumes
// where the previous stream stopped.
type StreamClient struct {
	addr    string
	topics  []string
	opts    []grpc.DialOption
	log     *slog.Logger
	lastSeq int64
}

// NewStreamClient creates a client targeting the given gRPC address. Extra
// dial options are appended after insecure transport credentials.
func NewStreamClient(addr string, topics []string, log *slog.Logger, opts ...grpc.DialOption) *StreamClient {
	if log == nil {
		log = slog.Default()
	}
	return &StreamClient{addr: addr, topics: topics, opts: opts, log: log, lastSeq: -1}
}

// LastSeq returns the last sequence id received, or -1 before the first message.
func (c *StreamClient) LastSeq() int64 { return c.lastSeq }

// Sync connects and streams messages into handle. After a previous Sync,
// backlog messages newer than the last one received are replayed first. It
// blocks until ctx is cancelled or the stream ends.
func (c *StreamClient) Sync(ctx context.Context, handle func(Message)) error {
	dial := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, c.opts...)
	conn, err := grpc.NewClient(c.addr, dial...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &eventStreamDesc.Streams[0], subscribePath)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(c.request()); err != nil {
		return fmt.Errorf("sending subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send side: %w", err)
	}

	c.log.Info("connected to event stream", "addr", c.addr, "after_seq", c.lastSeq)

	for {
		pm := new(structpb.Struct)
		err := stream.RecvMsg(pm)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving message: %w", err)
		}
		m := messageFromProto(pm)
		if m.Seq > c.lastSeq {
			c.lastSeq = m.Seq
		}
		handle(m)
	}
}

func (c *StreamClient) request() *structpb.Struct {
	topics := make([]*structpb.Value, 0, len(c.topics))
	for _, t := range c.topics {
		topics = append(topics, structpb.NewStringValue(t))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"topics":    structpb.NewListValue(&structpb.ListValue{Values: topics}),
		"after_seq": structpb.NewNumberValue(float64(c.lastSeq)),
	}}
}
