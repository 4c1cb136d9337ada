package node

import (
	"context"
	"sync"
	"time"

	"github.com/lioia/siterank/pkg/utils"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Role int32

const (
	Master Role = iota // Master node, coordinating the network and serving the API
	Worker             // Worker node, reducing segments from the work queue
)

type Node struct {
	Id          string        // Random node id
	Role        Role          // What this node has to do
	Connection  string        // This node connection information
	Master      string        // Master node (set if this node is a worker)
	Config      utils.Config  // Rank parameters
	Queue       Queue         // Queue information
	HealthCheck time.Duration // Worker: interval between master health checks
	HttpAddress string        // Master: echo server address
	mutex       sync.Mutex
	workers     []string         // Master state: joined worker connections
	aggregator  *QueueAggregator // Master state: distributed segment reduction
}

type Queue struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Work    *amqp.Queue
	Result  *amqp.Queue
}

func NewNode(id, connection string, config utils.Config) *Node {
	return &Node{
		Id:          id,
		Role:        Master,
		Connection:  connection,
		Config:      config,
		HealthCheck: 5 * time.Second,
	}
}

func RoleToString(role Role) string {
	switch role {
	case Master:
		return "Master"
	case Worker:
		return "Worker"
	}
	return "Undefined"
}

// Switch to worker after a successful join
func (n *Node) InitializeWorker(master string, join *Join) {
	n.Role = Worker
	n.Master = master
	n.Config = n.Config.Merge(join.Config)
}

func (n *Node) Workers() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	workers := make([]string, len(n.workers))
	copy(workers, n.workers)
	return workers
}

func (n *Node) addWorker(connection string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for _, v := range n.workers {
		if v == connection {
			return
		}
	}
	n.workers = append(n.workers, connection)
}

func (n *Node) setWorkers(workers []string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.workers = workers
}

func (n *Node) Update(ctx context.Context) error {
	if n.Role == Worker {
		utils.NodeLog("worker", "update")
		return n.workerUpdate(ctx)
	}
	utils.NodeLog("master", "update")
	return n.masterUpdate(ctx)
}
