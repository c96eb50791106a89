package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the event stream. Requests and messages are
// google.protobuf.Struct values, so no generated code is needed.
const (
	ServiceName     = "tradebridge.live.EventStream"
	subscribeMethod = "Subscribe"
	subscribePath   = "/" + ServiceName + "/" + subscribeMethod
)

const streamBuffer = 4096

type eventStreamServer interface {
	subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var eventStreamDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*eventStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    subscribeMethod,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "tradebridge/live/stream",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(eventStreamServer).subscribe(req, stream)
}

// StreamServer serves hub messages to gRPC clients.
type StreamServer struct {
	hub *Hub
	log *slog.Logger
}

// NewStreamServer creates a gRPC server backed by the given Hub.
func NewStreamServer(hub *Hub, log *slog.Logger) *StreamServer {
	if log == nil {
		log = slog.Default()
	}
	return &StreamServer{hub: hub, log: log.With("component", "live-grpc")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *StreamServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&eventStreamDesc, s)
}

// subscribe replays backlog messages after the requested sequence id, then
// streams new messages until the client disconnects. The request may carry
// "topics" (list of strings) and "after_seq" (number).
func (s *StreamServer) subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	topics, after := parseSubscribeRequest(req)
	match := topicFilter(topics)

	subID, backlog, ch := s.hub.SubscribeFrom(after, streamBuffer)
	defer s.hub.Unsubscribe(subID)

	s.log.Info("grpc client subscribed", "subID", subID, "topics", topics, "after_seq", after, "backlog", len(backlog))

	send := func(m Message) error {
		if !match(m.Topic) {
			return nil
		}
		pm, err := messageToProto(m)
		if err != nil {
			s.log.Warn("encoding message", "topic", m.Topic, "seq", m.Seq, "error", err)
			return nil
		}
		return stream.SendMsg(pm)
	}

	for _, m := range backlog {
		if err := send(m); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(m); err != nil {
				return err
			}
		}
	}
}

func parseSubscribeRequest(req *structpb.Struct) (topics []string, after int64) {
	after = -1
	if req == nil {
		return nil, after
	}
	if v, ok := req.Fields["topics"]; ok {
		for _, t := range v.GetListValue().GetValues() {
			if s := t.GetStringValue(); s != "" {
				topics = append(topics, s)
			}
		}
	}
	if v, ok := req.Fields["after_seq"]; ok {
		after = int64(v.GetNumberValue())
	}
	return topics, after
}

// messageToProto encodes m as a Struct. The payload goes through JSON so
// its field names match the REST and WebSocket encodings.
func messageToProto(m Message) (*structpb.Struct, error) {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	payload, err := structpb.NewValue(decoded)
	if err != nil {
		return nil, fmt.Errorf("converting payload: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"topic":   structpb.NewStringValue(m.Topic),
		"seq":     structpb.NewNumberValue(float64(m.Seq)),
		"time":    structpb.NewStringValue(m.Time.Format(time.RFC3339Nano)),
		"payload": payload,
	}}, nil
}

// messageFromProto decodes a Struct produced by messageToProto. The payload
// is returned in its generic JSON form.
func messageFromProto(s *structpb.Struct) Message {
	f := s.GetFields()
	m := Message{
		Topic: f["topic"].GetStringValue(),
		Seq:   int64(f["seq"].GetNumberValue()),
	}
	if t, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue()); err == nil {
		m.Time = t
	}
	if p, ok := f["payload"]; ok {
		m.Payload = p.AsInterface()
	}
	return m
}
