package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lioia/siterank/pkg/graph"
	"github.com/lioia/siterank/pkg/rank"
	"github.com/lioia/siterank/pkg/utils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "siterank.Api"

// gRPC API shared by every node; Rank and NodeJoin are served by the master only
type ApiServer interface {
	// From client to master: graph file contents -> RankResponse
	Rank(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	// From new node to master: node connection -> Join
	NodeJoin(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// From any node to any node
	HealthCheck(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type ApiClient interface {
	Rank(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	NodeJoin(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	HealthCheck(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type apiClient struct {
	cc grpc.ClientConnInterface
}

func NewApiClient(cc grpc.ClientConnInterface) ApiClient {
	return &apiClient{cc}
}

func (c *apiClient) Rank(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Rank", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) NodeJoin(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/NodeJoin", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) HealthCheck(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/HealthCheck", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// User has to `defer Close()`
func ApiCall(url string, opts ...grpc.DialOption) (utils.Client[ApiClient], error) {
	return utils.Call(url, 5*time.Second, NewApiClient, opts...)
}

func RegisterApiServer(s grpc.ServiceRegistrar, srv ApiServer) {
	s.RegisterService(&ApiServiceDesc, srv)
}

var ApiServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApiServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Rank", Handler: rankHandler},
		{MethodName: "NodeJoin", Handler: nodeJoinHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "siterank/api",
}

func rankHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiServer).Rank(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Rank"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiServer).Rank(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeJoinHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiServer).NodeJoin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/NodeJoin"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiServer).NodeJoin(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/HealthCheck"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiServer).HealthCheck(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type ApiServerImpl struct {
	Node *Node
}

func (s *ApiServerImpl) Rank(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if s.Node.Role != Master {
		return nil, status.Errorf(codes.FailedPrecondition,
			"This node cannot fulfill this request. Contact master node at: %s", s.Node.Master)
	}
	store, err := graph.LoadFromBytes(in.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Could not load graph: %v", err)
	}
	report, err := s.Node.Rank(ctx, store, "grpc")
	if err != nil {
		if errors.Is(err, rank.ErrNotConverged) {
			return nil, status.Error(codes.Aborted, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return NewRankResponse(report).Struct()
}

func (s *ApiServerImpl) NodeJoin(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	// Worker cannot do this operation
	if s.Node.Role != Master {
		return nil, status.Errorf(codes.FailedPrecondition,
			"This node cannot fulfill this request. Contact master node at: %s", s.Node.Master)
	}
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing node connection")
	}
	if s.Node.Queue.Work == nil || s.Node.Queue.Result == nil {
		return nil, status.Error(codes.Unavailable, "queues not declared yet")
	}
	s.Node.addWorker(in.GetValue())
	utils.ServerLog("Worker %s joined", in.GetValue())
	join := Join{
		WorkQueue:   s.Node.Queue.Work.Name,
		ResultQueue: s.Node.Queue.Result.Name,
		Config:      s.Node.Config,
	}
	return join.Struct()
}

func (s *ApiServerImpl) HealthCheck(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":      s.Node.Id,
		"role":    RoleToString(s.Node.Role),
		"workers": len(s.Node.Workers()),
	})
}

// Answer to a successful NodeJoin
type Join struct {
	WorkQueue   string
	ResultQueue string
	Config      utils.Config
}

func (j Join) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"work_queue":     j.WorkQueue,
		"result_queue":   j.ResultQueue,
		"damping":        j.Config.Damping,
		"threshold":      j.Config.Threshold,
		"max_iterations": j.Config.MaxIterations,
	})
}

func JoinFromStruct(s *structpb.Struct) (*Join, error) {
	fields := s.GetFields()
	join := &Join{
		WorkQueue:   fields["work_queue"].GetStringValue(),
		ResultQueue: fields["result_queue"].GetStringValue(),
		Config: utils.Config{
			Damping:       fields["damping"].GetNumberValue(),
			Threshold:     fields["threshold"].GetNumberValue(),
			MaxIterations: int(fields["max_iterations"].GetNumberValue()),
		},
	}
	if join.WorkQueue == "" || join.ResultQueue == "" {
		return nil, fmt.Errorf("join answer without queue names")
	}
	return join, nil
}

// Rank answer shared by the gRPC and HTTP APIs
type RankResponse struct {
	DurationMs  int64             `json:"duration_ms"`
	Iterations  int               `json:"iterations"`
	Convergence float64           `json:"convergence"`
	Top         []rank.RankedSite `json:"top"`
}

func NewRankResponse(report *rank.Report) *RankResponse {
	return &RankResponse{
		DurationMs:  report.Elapsed.Milliseconds(),
		Iterations:  report.Iterations,
		Convergence: report.Convergence,
		Top:         report.Ranked(),
	}
}

func (r *RankResponse) Struct() (*structpb.Struct, error) {
	top := make([]any, len(r.Top))
	for i, site := range r.Top {
		top[i] = map[string]any{"label": site.Label, "score": site.Score}
	}
	return structpb.NewStruct(map[string]any{
		"duration_ms": r.DurationMs,
		"iterations":  r.Iterations,
		"convergence": r.Convergence,
		"top":         top,
	})
}

func RankResponseFromStruct(s *structpb.Struct) *RankResponse {
	fields := s.GetFields()
	response := &RankResponse{
		DurationMs:  int64(fields["duration_ms"].GetNumberValue()),
		Iterations:  int(fields["iterations"].GetNumberValue()),
		Convergence: fields["convergence"].GetNumberValue(),
	}
	for _, v := range fields["top"].GetListValue().GetValues() {
		site := v.GetStructValue().GetFields()
		response.Top = append(response.Top, rank.RankedSite{
			Label: site["label"].GetStringValue(),
			Score: site["score"].GetNumberValue(),
		})
	}
	return response
}

// Same layout as rank.Report.Write
func (r *RankResponse) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Duration:%d\n", r.DurationMs); err != nil {
		return err
	}
	for i := 0; i < rank.K; i++ {
		label, score := "-", -1.0
		if i < len(r.Top) {
			label, score = r.Top[i].Label, r.Top[i].Score
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", label, rank.FormatScore(score)); err != nil {
			return err
		}
	}
	return nil
}
