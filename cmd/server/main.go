package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lioia/siterank/pkg/node"
	"github.com/lioia/siterank/pkg/utils"
	gonanoid "github.com/matoous/go-nanoid/v2"

	amqp "github.com/rabbitmq/amqp091-go"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func main() {
	// Read environment variables
	env, err := utils.ReadEnvVars()
	utils.FailOnError("Failed to read environment variables", err)
	utils.InitLog(env.NodeLog, env.ServerLog)

	// Create connection
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", env.Port))
	utils.FailOnError("Failed to listen for node server", err)
	// lis.Close in goroutine

	realPort := env.Port
	realHost := env.Host
	if env.Port == 0 {
		realPort = lis.Addr().(*net.TCPAddr).Port
	}
	if env.Host == "" {
		realHost = lis.Addr().(*net.TCPAddr).IP.String()
	}

	// Connect to RabbitMQ
	queue := fmt.Sprintf("amqp://%s:%s@%s:5672/", env.RabbitUser, env.RabbitPass, env.RabbitHost)
	queueConn, err := amqp.Dial(queue)
	utils.FailOnError("Could not connect to RabbitMQ", err)
	defer queueConn.Close()
	ch, err := queueConn.Channel()
	utils.FailOnError("Failed to open a channel to RabbitMQ", err)
	defer ch.Close()

	id, err := gonanoid.New()
	utils.FailOnError("Failed to generate node id", err)
	// Base node values
	n := node.NewNode(id, fmt.Sprintf("%s:%d", realHost, realPort), env.Config())
	n.Queue = node.Queue{Conn: queueConn, Channel: ch}
	n.HealthCheck = time.Duration(env.HealthCheck) * time.Millisecond

	// Contact master node to join the network
	client, err := node.ApiCall(env.Master)
	utils.FailOnError("Failed to create connection to the master node", err)
	answer, err := client.Client.NodeJoin(client.Ctx, wrapperspb.String(n.Connection))
	client.Close()
	if err != nil {
		// There is no node at the address -> creating a new network
		// This node will be the master
		utils.NodeLog("master", "No master node found at %s", env.Master)
	} else {
		join, err := node.JoinFromStruct(answer)
		utils.FailOnError("Invalid answer from master node", err)
		utils.NodeLog("worker", "Found master at %s", env.Master)
		n.InitializeWorker(env.Master, join)
		env.WorkQueue = join.WorkQueue
		env.ResultQueue = join.ResultQueue
	}
	// Queue declaration
	n.Queue.Work, err = utils.DeclareQueue(ch, env.WorkQueue, 1)
	utils.FailOnError("Failed to declare 'work' queue", err)
	n.Queue.Result, err = utils.DeclareQueue(ch, env.ResultQueue, 1)
	utils.FailOnError("Failed to declare 'result' queue", err)

	if n.Role == node.Master {
		// Results left over by a previous master belong to dead batches
		utils.PurgeQueue(ch, n.Queue.Result.Name)
		utils.FailOnError("Failed to initialize master", n.InitializeMaster())
		n.HttpAddress = fmt.Sprintf(":%d", env.ApiPort)
	}

	// Running gRPC server for internal network communication in a goroutine
	server := grpc.NewServer()
	node.RegisterApiServer(server, &node.ApiServerImpl{Node: n})
	go func() {
		defer lis.Close()
		fmt.Printf("Starting %s node at %s\n", node.RoleToString(n.Role), n.Connection)
		err := server.Serve(lis)
		utils.FailOnError("Failed to serve", err)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Node Update
	err = n.Update(ctx)
	server.GracefulStop()
	utils.FailOnError("Node stopped", err)
}
