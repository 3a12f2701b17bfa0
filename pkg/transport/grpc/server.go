package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/housemecn/rustfs/pkg/observability/tracing"
    "github.com/housemecn/rustfs/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec, so no
// protobuf codegen is required. It also carries an audit event streaming
// service that fans cluster events out to subscribed peers.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    tlsCfg *tls.Config

    evs struct {
        mu   sync.Mutex
        subs map[*eventSub]struct{}
    }
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC listener using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server {
    s.tlsCfg = cfg
    return s
}

// empty stands in for methods that take no arguments; reportBlob carries an
// already-encoded JSON report so the management surface stays codec-agnostic.
type empty struct{}

type reportBlob struct {
    Data []byte `json:"data"`
}

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*reportBlob, error)
    GetHealth(ctx context.Context, in *empty) (*reportBlob, error)
    GetEliminations(ctx context.Context, in *empty) (*reportBlob, error)
    AddMember(ctx context.Context, in *transport.AddMemberRequest) (*transport.AddMemberResponse, error)
    RemoveMember(ctx context.Context, in *transport.RemoveMemberRequest) (*transport.RemoveMemberResponse, error)
    Rejoin(ctx context.Context, in *transport.RejoinRequest) (*transport.RejoinResponse, error)
    Heartbeat(ctx context.Context, in *transport.HeartbeatRequest) (*transport.HeartbeatResponse, error)
    Metric(ctx context.Context, in *transport.MetricRequest) (*transport.MetricResponse, error)
    ResolvePartition(ctx context.Context, in *transport.ResolvePartitionRequest) (*transport.ResolvePartitionResponse, error)
}

type mgmtImpl struct {
    h transport.Handlers
}

func (m *mgmtImpl) report(ctx context.Context, span string, fn transport.ReportFunc) (*reportBlob, error) {
    if fn == nil {
        return &reportBlob{}, nil
    }
    ctx, end := tracing.StartSpan(ctx, span)
    defer end()
    b, err := fn(ctx)
    if err != nil {
        return nil, err
    }
    return &reportBlob{Data: b}, nil
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*reportBlob, error) {
    return m.report(ctx, "grpc.status", transport.ReportFunc(m.h.Status))
}

func (m *mgmtImpl) GetHealth(ctx context.Context, _ *empty) (*reportBlob, error) {
    return m.report(ctx, "grpc.health", m.h.Health)
}

func (m *mgmtImpl) GetEliminations(ctx context.Context, _ *empty) (*reportBlob, error) {
    return m.report(ctx, "grpc.eliminations", m.h.Eliminations)
}

func (m *mgmtImpl) AddMember(ctx context.Context, in *transport.AddMemberRequest) (*transport.AddMemberResponse, error) {
    if in == nil {
        in = &transport.AddMemberRequest{}
    }
    if m.h.AddMember == nil {
        return &transport.AddMemberResponse{Error: "not implemented"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.members.add")
    defer end()
    out, err := m.h.AddMember(ctx, *in)
    if err != nil {
        return &transport.AddMemberResponse{Accepted: false, Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) RemoveMember(ctx context.Context, in *transport.RemoveMemberRequest) (*transport.RemoveMemberResponse, error) {
    if in == nil {
        in = &transport.RemoveMemberRequest{}
    }
    if m.h.RemoveMember == nil {
        return &transport.RemoveMemberResponse{Error: "not implemented"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.members.remove")
    defer end()
    out, err := m.h.RemoveMember(ctx, *in)
    if err != nil {
        return &transport.RemoveMemberResponse{Accepted: false, RequiresForce: out.RequiresForce, Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) Rejoin(ctx context.Context, in *transport.RejoinRequest) (*transport.RejoinResponse, error) {
    if in == nil {
        in = &transport.RejoinRequest{}
    }
    if m.h.Rejoin == nil {
        return &transport.RejoinResponse{Error: "not implemented"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.members.rejoin")
    defer end()
    out, err := m.h.Rejoin(ctx, *in)
    if err != nil {
        return &transport.RejoinResponse{Accepted: false, Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) Heartbeat(ctx context.Context, in *transport.HeartbeatRequest) (*transport.HeartbeatResponse, error) {
    if in == nil {
        in = &transport.HeartbeatRequest{}
    }
    if m.h.Heartbeat == nil {
        return &transport.HeartbeatResponse{Error: "not implemented"}, nil
    }
    out, err := m.h.Heartbeat(ctx, *in)
    if err != nil {
        return &transport.HeartbeatResponse{Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) Metric(ctx context.Context, in *transport.MetricRequest) (*transport.MetricResponse, error) {
    if in == nil {
        in = &transport.MetricRequest{}
    }
    if m.h.Metric == nil {
        return &transport.MetricResponse{Error: "not implemented"}, nil
    }
    out, err := m.h.Metric(ctx, *in)
    if err != nil {
        return &transport.MetricResponse{Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) ResolvePartition(ctx context.Context, in *transport.ResolvePartitionRequest) (*transport.ResolvePartitionResponse, error) {
    if in == nil {
        in = &transport.ResolvePartitionRequest{}
    }
    if m.h.ResolvePartition == nil {
        return &transport.ResolvePartitionResponse{Error: "not implemented"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.partition.resolve")
    defer end()
    out, err := m.h.ResolvePartition(ctx, *in)
    if err != nil {
        return &transport.ResolvePartitionResponse{Accepted: false, Error: err.Error()}, nil
    }
    return &out, nil
}

var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: "reliability.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
        {MethodName: "GetHealth", Handler: _Management_GetHealth_Handler},
        {MethodName: "GetEliminations", Handler: _Management_GetEliminations_Handler},
        {MethodName: "AddMember", Handler: _Management_AddMember_Handler},
        {MethodName: "RemoveMember", Handler: _Management_RemoveMember_Handler},
        {MethodName: "Rejoin", Handler: _Management_Rejoin_Handler},
        {MethodName: "Heartbeat", Handler: _Management_Heartbeat_Handler},
        {MethodName: "Metric", Handler: _Management_Metric_Handler},
        {MethodName: "ResolvePartition", Handler: _Management_ResolvePartition_Handler},
    },
}

// unaryHandler builds the grpc.MethodDesc handler boilerplate for one unary
// method of the management service.
func unaryHandler[Req any, Resp any](method string, call func(managementServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
    return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
        in := new(Req)
        if err := dec(in); err != nil {
            return nil, err
        }
        if interceptor == nil {
            return call(srv.(managementServer), ctx, in)
        }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/reliability.v1.Management/" + method}
        handler := func(ctx context.Context, req interface{}) (interface{}, error) {
            return call(srv.(managementServer), ctx, req.(*Req))
        }
        return interceptor(ctx, in, info, handler)
    }
}

var (
    _Management_GetStatus_Handler = unaryHandler("GetStatus", func(s managementServer, ctx context.Context, in *empty) (*reportBlob, error) {
        return s.GetStatus(ctx, in)
    })
    _Management_GetHealth_Handler = unaryHandler("GetHealth", func(s managementServer, ctx context.Context, in *empty) (*reportBlob, error) {
        return s.GetHealth(ctx, in)
    })
    _Management_GetEliminations_Handler = unaryHandler("GetEliminations", func(s managementServer, ctx context.Context, in *empty) (*reportBlob, error) {
        return s.GetEliminations(ctx, in)
    })
    _Management_AddMember_Handler = unaryHandler("AddMember", func(s managementServer, ctx context.Context, in *transport.AddMemberRequest) (*transport.AddMemberResponse, error) {
        return s.AddMember(ctx, in)
    })
    _Management_RemoveMember_Handler = unaryHandler("RemoveMember", func(s managementServer, ctx context.Context, in *transport.RemoveMemberRequest) (*transport.RemoveMemberResponse, error) {
        return s.RemoveMember(ctx, in)
    })
    _Management_Rejoin_Handler = unaryHandler("Rejoin", func(s managementServer, ctx context.Context, in *transport.RejoinRequest) (*transport.RejoinResponse, error) {
        return s.Rejoin(ctx, in)
    })
    _Management_Heartbeat_Handler = unaryHandler("Heartbeat", func(s managementServer, ctx context.Context, in *transport.HeartbeatRequest) (*transport.HeartbeatResponse, error) {
        return s.Heartbeat(ctx, in)
    })
    _Management_Metric_Handler = unaryHandler("Metric", func(s managementServer, ctx context.Context, in *transport.MetricRequest) (*transport.MetricResponse, error) {
        return s.Metric(ctx, in)
    })
    _Management_ResolvePartition_Handler = unaryHandler("ResolvePartition", func(s managementServer, ctx context.Context, in *transport.ResolvePartitionRequest) (*transport.ResolvePartitionResponse, error) {
        return s.ResolvePartition(ctx, in)
    })
)

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    s.lis = lis
    s.bind = lis.Addr().String()

    var opts []grpc.ServerOption
    opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
        MinTime:             5 * time.Second,
        PermitWithoutStream: true,
    }))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
        Time:    30 * time.Second,
        Timeout: 10 * time.Second,
    }))
    if s.tlsCfg != nil {
        opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
    }
    srv := grpc.NewServer(opts...)
    s.srv = srv

    healthSrv := health.NewServer()
    healthpb.RegisterHealthServer(srv, healthSrv)

    srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{h: h})

    s.evs.mu.Lock()
    s.evs.subs = make(map[*eventSub]struct{})
    s.evs.mu.Unlock()
    srv.RegisterService(&_Events_serviceDesc, &eventsImpl{server: s})

    go func() {
        <-ctx.Done()
        done := make(chan struct{})
        go func() {
            srv.GracefulStop()
            close(done)
        }()
        select {
        case <-done:
        case <-time.After(2 * time.Second):
            srv.Stop()
        }
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

func (s *Server) Addr() string { return s.bind }

func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil {
        return nil
    }
    done := make(chan struct{})
    go func() {
        s.srv.GracefulStop()
        close(done)
    }()
    select {
    case <-done:
    case <-ctx.Done():
        s.srv.Stop()
    }
    s.srv = nil
    if s.lis != nil {
        _ = s.lis.Close()
        s.lis = nil
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)

// eventMsg carries one JSON-encoded cluster event over the stream.
type eventMsg struct {
    Data []byte `json:"data"`
}

type eventSubReq struct {
    Peer string `json:"peer,omitempty"`
}

type eventSub struct {
    ss grpc.ServerStream
}

type eventsServer interface {
    Subscribe(*eventSubReq, Events_SubscribeServer) error
}

type Events_SubscribeServer interface {
    Send(*eventMsg) error
    grpc.ServerStream
}

type eventsImpl struct {
    server *Server
}

func (e *eventsImpl) Subscribe(req *eventSubReq, stream Events_SubscribeServer) error {
    sub := &eventSub{ss: stream}
    e.server.addSub(sub)
    defer e.server.removeSub(sub)
    <-stream.Context().Done()
    return nil
}

func (s *Server) addSub(sub *eventSub) {
    s.evs.mu.Lock()
    if s.evs.subs == nil {
        s.evs.subs = make(map[*eventSub]struct{})
    }
    s.evs.subs[sub] = struct{}{}
    s.evs.mu.Unlock()
}

func (s *Server) removeSub(sub *eventSub) {
    s.evs.mu.Lock()
    delete(s.evs.subs, sub)
    s.evs.mu.Unlock()
}

// BroadcastEvent fans one JSON-encoded cluster event out to every active
// subscriber. Best effort: a failed send drops the subscriber. Returns the
// number of peers reached.
func (s *Server) BroadcastEvent(data []byte) int {
    msg := &eventMsg{Data: data}
    sent := 0
    s.evs.mu.Lock()
    for sub := range s.evs.subs {
        if err := sub.ss.SendMsg(msg); err != nil {
            delete(s.evs.subs, sub)
            continue
        }
        sent++
    }
    s.evs.mu.Unlock()
    return sent
}

var _Events_serviceDesc = grpc.ServiceDesc{
    ServiceName: "reliability.v1.Events",
    HandlerType: (*eventsServer)(nil),
    Streams: []grpc.StreamDesc{{
        StreamName:    "Subscribe",
        ServerStreams: true,
        Handler:       _Events_Subscribe_Handler,
    }},
}

func _Events_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
    m := new(eventSubReq)
    if err := stream.RecvMsg(m); err != nil {
        return err
    }
    return srv.(eventsServer).Subscribe(m, &eventsSubscribeServer{stream})
}

type eventsSubscribeServer struct {
    grpc.ServerStream
}

func (x *eventsSubscribeServer) Send(m *eventMsg) error {
    return x.ServerStream.SendMsg(m)
}
