package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	logger    = log.New(os.Stderr, "", log.LstdFlags)
	nodeLog   atomic.Bool // Rank progress and queue traffic
	serverLog atomic.Bool // API and network membership
)

// InitLog switches the informational streams on or off; warnings are always written
func InitLog(node, server bool) {
	nodeLog.Store(node)
	serverLog.Store(server)
}

func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func ServerLog(format string, v ...any) {
	if serverLog.Load() {
		write("INFO", "server", format, v...)
	}
}

// NodeLog tags the line with the node role (master, worker, cli)
func NodeLog(role string, format string, v ...any) {
	if nodeLog.Load() {
		write("INFO", role, format, v...)
	}
}

func WarnLog(role string, format string, v ...any) {
	write("WARN", role, format, v...)
}

// FailOnError exits the process when err is set
func FailOnError(format string, err error, v ...any) {
	if err == nil {
		return
	}
	write("FATAL", "process", "%s: %v", fmt.Sprintf(format, v...), err)
	os.Exit(1)
}

func write(level, scope, format string, v ...any) {
	logger.Printf("%-5s [%s] %s", level, scope, fmt.Sprintf(format, v...))
}
