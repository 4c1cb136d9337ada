package utils

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type EnvVars struct {
	Master        string
	Host          string
	Port          int
	ApiPort       int
	RabbitHost    string
	RabbitUser    string
	RabbitPass    string
	WorkQueue     string
	ResultQueue   string
	NodeLog       bool
	ServerLog     bool
	HealthCheck   int // Milliseconds between worker health checks
	Damping       float64
	Threshold     float64
	MaxIterations int
	Workers       int
}

func ReadEnvVars() (EnvVars, error) {
	// Loading .env file if it exists
	// It will not override already existing env vars
	_ = godotenv.Load()
	var env EnvVars
	var err error
	if env.Master, err = readStringEnvVar("MASTER"); err != nil {
		return env, err
	}
	if env.Port, err = readIntEnvVar("PORT"); err != nil {
		return env, err
	}
	if env.RabbitHost, err = readStringEnvVar("RABBIT_HOST"); err != nil {
		return env, err
	}
	env.Host = readStringEnvVarOr("HOST", "")
	env.ApiPort = ReadIntEnvVarOr("API_PORT", 8080)
	env.RabbitUser = readStringEnvVarOr("RABBIT_USER", "guest")
	env.RabbitPass = readStringEnvVarOr("RABBIT_PASSWORD", "guest")
	env.WorkQueue = readStringEnvVarOr("WORK_QUEUE", "work")
	env.ResultQueue = readStringEnvVarOr("RESULT_QUEUE", "result")
	env.NodeLog = ReadBoolEnvVarOr("NODE_LOG", false)
	env.ServerLog = ReadBoolEnvVarOr("SERVER_LOG", false)
	env.HealthCheck = ReadIntEnvVarOr("HEALTH_CHECK", 5000)
	env.Damping = readFloatEnvVarOr("DAMPING", 0)
	env.Threshold = readFloatEnvVarOr("THRESHOLD", 0)
	env.MaxIterations = ReadIntEnvVarOr("MAX_ITERATIONS", 0)
	env.Workers = ReadIntEnvVarOr("WORKERS", 0)
	return env, nil
}

// Configuration carried by the environment
func (env EnvVars) Config() Config {
	return Config{
		Damping:       env.Damping,
		Threshold:     env.Threshold,
		MaxIterations: env.MaxIterations,
		Workers:       env.Workers,
	}
}

func readStringEnvVar(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%s not set", name)
	}
	return value, nil
}

func readIntEnvVar(name string) (int, error) {
	valueStr, err := readStringEnvVar(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("could not convert %s to a number: %w", name, err)
	}
	return value, nil
}

func readStringEnvVarOr(name string, or string) string {
	value, err := readStringEnvVar(name)
	if err != nil {
		value = or
	}
	return value
}

func ReadIntEnvVarOr(name string, or int) int {
	value, err := readIntEnvVar(name)
	if err != nil {
		value = or
	}
	return value
}

func ReadBoolEnvVarOr(name string, or bool) bool {
	valueStr, err := readStringEnvVar(name)
	if err != nil {
		return or
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return or
	}
	return value
}

func readFloatEnvVarOr(name string, or float64) float64 {
	valueStr, err := readStringEnvVar(name)
	if err != nil {
		return or
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return or
	}
	return value
}
