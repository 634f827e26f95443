package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds concurrency configuration parameters
type Config struct {
	// MaxCompiles bounds concurrent schema compiles
	MaxCompiles int
	// RunnerWorkers is the job runner pool size
	RunnerWorkers int
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
		Source:        ConfigSourceAutoDetect,
	}

	if n := getEnvInt("DFDL_MAX_COMPILES", 0); n > 0 {
		config.MaxCompiles = n
		config.Source = ConfigSourceEnvVar
	} else {
		// compiles are CPU and memory heavy, keep them below the core count
		config.MaxCompiles = max(config.EffectiveCPUs/2, 1)
	}

	if workers := getEnvInt("DFDL_RUNNER_WORKERS", 0); workers > 0 {
		config.RunnerWorkers = workers
		config.Source = ConfigSourceEnvVar
	} else if config.IsKubernetes {
		config.RunnerWorkers = max(config.EffectiveCPUs, 4)
	} else {
		config.RunnerWorkers = max(config.EffectiveCPUs*2, 8)
	}

	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxCompiles: %d, RunnerWorkers: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxCompiles,
		c.RunnerWorkers,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
