package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/lioia/siterank/pkg/rank"
	"github.com/lioia/siterank/pkg/utils"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newMaster() *Node {
	n := NewNode("master-id", "127.0.0.1:1234", utils.Config{})
	n.Queue.Work = &amqp.Queue{Name: "work"}
	n.Queue.Result = &amqp.Queue{Name: "result"}
	return n
}

func newWorker() *Node {
	n := NewNode("worker-id", "127.0.0.1:4321", utils.Config{})
	n.InitializeWorker("127.0.0.1:1234", &Join{WorkQueue: "work", ResultQueue: "result"})
	return n
}

// serve starts the API of n on an in-memory listener
func serve(t *testing.T, n *Node) utils.Client[ApiClient] {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	RegisterApiServer(server, &ApiServerImpl{Node: n})
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	client, err := utils.Call("bufnet", 5*time.Second, NewApiClient,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestApiRank(t *testing.T) {
	t.Parallel()
	client := serve(t, newMaster())

	answer, err := client.Client.Rank(client.Ctx, wrapperspb.Bytes([]byte("A B\nA C\n")))
	require.NoError(t, err)
	response := RankResponseFromStruct(answer)
	assert.Equal(t, 3, response.Iterations)
	require.Len(t, response.Top, 3)
	assert.Equal(t, "B", response.Top[0].Label)
	assert.InDelta(t, 0.88, response.Top[0].Score, 1e-9)
	assert.Equal(t, "A", response.Top[2].Label)

	var buf bytes.Buffer
	response.DurationMs = 3
	require.NoError(t, response.Write(&buf))
	assert.Equal(t, "Duration:3\nB: 0.88\nC: 0.88\nA: 0.8\n-: -1\n-: -1\n", buf.String())
}

func TestApiRankOnWorker(t *testing.T) {
	t.Parallel()
	client := serve(t, newWorker())

	_, err := client.Client.Rank(client.Ctx, wrapperspb.Bytes([]byte("A B")))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = client.Client.NodeJoin(client.Ctx, wrapperspb.String("127.0.0.1:9"))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestApiRankNotConverged(t *testing.T) {
	t.Parallel()
	n := newMaster()
	n.Config.MaxIterations = 1
	client := serve(t, n)

	_, err := client.Client.Rank(client.Ctx, wrapperspb.Bytes([]byte("A B\nA C\n")))
	assert.Equal(t, codes.Aborted, status.Code(err))
}

func TestApiNodeJoin(t *testing.T) {
	t.Parallel()
	n := newMaster()
	n.Config = utils.Config{Damping: 0.3, MaxIterations: 20}
	client := serve(t, n)

	for i := 0; i < 2; i++ {
		answer, err := client.Client.NodeJoin(client.Ctx, wrapperspb.String("10.0.0.2:4000"))
		require.NoError(t, err)
		join, err := JoinFromStruct(answer)
		require.NoError(t, err)
		assert.Equal(t, "work", join.WorkQueue)
		assert.Equal(t, "result", join.ResultQueue)
		assert.Equal(t, utils.Config{Damping: 0.3, MaxIterations: 20}, join.Config)
	}
	// Joining again does not duplicate the worker
	assert.Equal(t, []string{"10.0.0.2:4000"}, n.Workers())

	_, err := client.Client.NodeJoin(client.Ctx, wrapperspb.String(""))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestApiNodeJoinBeforeQueues(t *testing.T) {
	t.Parallel()
	client := serve(t, NewNode("id", "127.0.0.1:1", utils.Config{}))
	_, err := client.Client.NodeJoin(client.Ctx, wrapperspb.String("10.0.0.2:4000"))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestApiHealthCheck(t *testing.T) {
	t.Parallel()
	client := serve(t, newWorker())
	answer, err := client.Client.HealthCheck(client.Ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "worker-id", answer.GetFields()["id"].GetStringValue())
	assert.Equal(t, "Worker", answer.GetFields()["role"].GetStringValue())
}

func TestJoinFromStructRequiresQueues(t *testing.T) {
	t.Parallel()
	s, err := Join{WorkQueue: "work"}.Struct()
	require.NoError(t, err)
	_, err = JoinFromStruct(s)
	assert.Error(t, err)
}

func TestInitializeWorkerMergesConfig(t *testing.T) {
	t.Parallel()
	n := NewNode("id", "127.0.0.1:1", utils.Config{Workers: 4, Damping: 0.5})
	n.InitializeWorker("m:1", &Join{WorkQueue: "w", ResultQueue: "r", Config: utils.Config{Damping: 0.3}})
	assert.Equal(t, Worker, n.Role)
	assert.Equal(t, "m:1", n.Master)
	assert.Equal(t, utils.Config{Workers: 4, Damping: 0.3}, n.Config)
}

func TestRoleToString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Master", RoleToString(Master))
	assert.Equal(t, "Worker", RoleToString(Worker))
	assert.Equal(t, "Undefined", RoleToString(Role(9)))
}

func TestPruneWorkers(t *testing.T) {
	t.Parallel()
	// Live worker on a real port
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	RegisterApiServer(server, &ApiServerImpl{Node: newWorker()})
	go func() {
		_ = server.Serve(lis)
	}()
	defer server.Stop()

	// Nothing listens on a closed port
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := closed.Addr().String()
	require.NoError(t, closed.Close())

	n := newMaster()
	n.addWorker(lis.Addr().String())
	n.addWorker(dead)
	assert.Equal(t, []string{lis.Addr().String()}, n.pruneWorkers())
	assert.Equal(t, []string{lis.Addr().String()}, n.Workers())
}

func TestRankThroughQueues(t *testing.T) {
	t.Parallel()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	RegisterApiServer(server, &ApiServerImpl{Node: newWorker()})
	go func() {
		_ = server.Serve(lis)
	}()
	defer server.Stop()

	n := newMaster()
	n.addWorker(lis.Addr().String())
	l := newLoopback()
	n.aggregator = NewQueueAggregator(l, "work", "result", func() int { return len(n.Workers()) })
	go n.aggregator.Dispatch(l.results)
	defer close(l.results)

	report, err := n.Rank(context.Background(), parseGraph(t, sample), "test")
	require.NoError(t, err)
	assert.Positive(t, l.published())
	assert.Equal(t, report.Iterations, l.published())

	local, err := rank.Compute(context.Background(), parseGraph(t, sample), nil, rank.Options{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, local.Ranks, report.Ranks, 1e-12)
}

func TestRankWithoutWorkersIsLocal(t *testing.T) {
	t.Parallel()
	n := newMaster()
	l := newLoopback()
	n.aggregator = NewQueueAggregator(l, "work", "result", func() int { return 1 })

	_, err := n.Rank(context.Background(), parseGraph(t, sample), "test")
	require.NoError(t, err)
	assert.Zero(t, l.published())

	_, err = newWorker().Rank(context.Background(), parseGraph(t, sample), "test")
	assert.Error(t, err)
}

func TestHttpRank(t *testing.T) {
	t.Parallel()
	e := NewHttpServer(newMaster())

	req := httptest.NewRequest(http.MethodPost, "/rank", strings.NewReader("A B\nA C\n"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var response RankResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 3, response.Iterations)
	require.Len(t, response.Top, 3)
	assert.Equal(t, "A", response.Top[2].Label)
	assert.InDelta(t, rank.Baseline(rank.DefaultDamping), response.Top[2].Score, 1e-12)
}

func TestHttpRankResource(t *testing.T) {
	t.Parallel()
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("A B\nB A\n"))
	}))
	defer files.Close()
	e := NewHttpServer(newMaster())

	req := httptest.NewRequest(http.MethodPost, "/rank?resource="+files.URL+"/graph.txt", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/rank?resource=/does/not/exist", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHttpRankRefusesServerFiles(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PASSWORD=hunter2 API_KEY=abc123"), 0o600))
	e := NewHttpServer(newMaster())

	for _, resource := range []string{path, "file://" + path} {
		req := httptest.NewRequest(http.MethodPost, "/rank?resource="+url.QueryEscape(resource), nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, resource)
		assert.NotContains(t, rec.Body.String(), "hunter2")
	}
}

func TestHttpStatusCodes(t *testing.T) {
	t.Parallel()
	notConverging := newMaster()
	notConverging.Config.MaxIterations = 1
	tests := []struct {
		name   string
		node   *Node
		method string
		target string
		body   string
		code   int
	}{
		{"worker", newWorker(), http.MethodPost, "/rank", "A B", http.StatusConflict},
		{"not converged", notConverging, http.MethodPost, "/rank", "A B\nA C", http.StatusUnprocessableEntity},
		{"unknown format", newMaster(), http.MethodPost, "/render?format=gif", "A B", http.StatusBadRequest},
		{"health", newWorker(), http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", newMaster(), http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			NewHttpServer(tt.node).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHttpRender(t *testing.T) {
	t.Parallel()
	e := NewHttpServer(newMaster())
	req := httptest.NewRequest(http.MethodPost, "/render?format="+string(graphviz.XDOT), strings.NewReader("alpha beta\nbeta alpha\n"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/vnd.graphviz", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "alpha")
}
