package utils

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Client[T any] struct {
	Client T
	Ctx    context.Context
	conn   *grpc.ClientConn
	cancel context.CancelFunc
}

// Utility function to create a gRPC client to `url`
// Has to be closed (`c.Close()`)
func Call[T any](url string, timeout time.Duration, newClient func(grpc.ClientConnInterface) T, opts ...grpc.DialOption) (Client[T], error) {
	var clientInfo Client[T]
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(url, opts...)
	if err != nil {
		return clientInfo, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	clientInfo.Client = newClient(conn)
	clientInfo.Ctx = ctx
	clientInfo.conn = conn
	clientInfo.cancel = cancel
	return clientInfo, nil
}

func (c Client[T]) Close() {
	c.cancel()
	c.conn.Close()
}
