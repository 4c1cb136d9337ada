package utils

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigurationJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"damping": 0.15, "maxIterations": 50, "graph": "graph.txt"}`)
	config, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, Config{Damping: 0.15, MaxIterations: 50, Graph: "graph.txt"}, config)
}

func TestLoadConfigurationYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yml", "threshold: 0.001\nworkers: 4\noutput: out.svg\n")
	config, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, Config{Threshold: 0.001, Workers: 4, Output: "out.svg"}, config)
}

func TestLoadConfigurationErrors(t *testing.T) {
	t.Parallel()
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfiguration(writeFile(t, "broken.json", "{"))
	assert.ErrorContains(t, err, "parse")
}

func TestConfigMerge(t *testing.T) {
	t.Parallel()
	base := Config{Damping: 0.2, Workers: 2, Graph: "a.txt"}
	merged := base.Merge(Config{Workers: 8, Output: "out.png"})
	assert.Equal(t, Config{Damping: 0.2, Workers: 8, Graph: "a.txt", Output: "out.png"}, merged)
	assert.Equal(t, base, base.Merge(Config{}))
}

func TestReadEnvVars(t *testing.T) {
	t.Setenv("MASTER", "10.0.0.1:1234")
	t.Setenv("PORT", "0")
	t.Setenv("RABBIT_HOST", "rabbit")
	t.Setenv("HOST", "")
	t.Setenv("API_PORT", "")
	t.Setenv("WORK_QUEUE", "jobs")
	t.Setenv("NODE_LOG", "true")
	t.Setenv("SERVER_LOG", "nope")
	t.Setenv("DAMPING", "0.3")
	t.Setenv("THRESHOLD", "")
	t.Setenv("MAX_ITERATIONS", "")
	t.Setenv("WORKERS", "3")

	env, err := ReadEnvVars()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:1234", env.Master)
	assert.Equal(t, 0, env.Port)
	assert.Equal(t, 8080, env.ApiPort)
	assert.Equal(t, "jobs", env.WorkQueue)
	assert.True(t, env.NodeLog)
	assert.False(t, env.ServerLog)
	assert.Equal(t, Config{Damping: 0.3, Workers: 3}, env.Config())
}

func TestReadEnvVarsRequired(t *testing.T) {
	t.Setenv("MASTER", "10.0.0.1:1234")
	t.Setenv("PORT", "not a port")
	t.Setenv("RABBIT_HOST", "rabbit")
	_, err := ReadEnvVars()
	assert.ErrorContains(t, err, "PORT")

	t.Setenv("PORT", "1234")
	t.Setenv("RABBIT_HOST", "")
	_, err = ReadEnvVars()
	assert.ErrorContains(t, err, "RABBIT_HOST not set")
}

func TestLogGating(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() {
		SetLogOutput(os.Stderr)
		InitLog(false, false)
	})

	InitLog(false, true)
	NodeLog("master", "iteration %d", 3)
	ServerLog("worker %s joined", "10.0.0.2:4000")
	WarnLog("worker", "master unreachable")

	out := buf.String()
	assert.NotContains(t, out, "iteration 3")
	assert.Contains(t, out, "INFO  [server] worker 10.0.0.2:4000 joined")
	assert.Contains(t, out, "WARN  [worker] master unreachable")

	buf.Reset()
	InitLog(true, false)
	NodeLog("master", "iteration %d", 4)
	ServerLog("hidden")
	assert.Contains(t, buf.String(), "INFO  [master] iteration 4")
	assert.NotContains(t, buf.String(), "hidden")
}

type requeueRecorder struct {
	requeued bool
}

func (r *requeueRecorder) Ack(uint64, bool) error { return nil }
func (r *requeueRecorder) Reject(uint64, bool) error { return nil }
func (r *requeueRecorder) Nack(_ uint64, _, requeue bool) error {
	r.requeued = requeue
	return nil
}

func TestFailOnNackRequeues(t *testing.T) {
	ack := &requeueRecorder{}
	SetLogOutput(io.Discard)
	t.Cleanup(func() { SetLogOutput(os.Stderr) })

	FailOnNack(amqp.Delivery{Acknowledger: ack, DeliveryTag: 7}, errors.New("publish failed"))
	assert.True(t, ack.requeued)
}
