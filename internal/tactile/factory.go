package tactile

import (
	"fmt"
)

// ExecutorFactory creates executors based on configuration and environment.
type ExecutorFactory struct {
	config ExecutorConfig
}

// NewExecutorFactory creates a new executor factory.
func NewExecutorFactory(config ExecutorConfig) *ExecutorFactory {
	return &ExecutorFactory{config: config}
}

// NewDefaultFactory creates a factory with default configuration.
func NewDefaultFactory() *ExecutorFactory {
	return NewExecutorFactory(DefaultExecutorConfig())
}

// CreateDirect creates a host executor.
func (f *ExecutorFactory) CreateDirect() *DirectExecutor {
	return NewDirectExecutorWithConfig(f.config)
}

// CreateContainer creates an executor backed by the Docker Engine.
func (f *ExecutorFactory) CreateContainer() (*ContainerExecutor, error) {
	return NewContainerExecutor(f.config)
}

// CreateFromConfig creates an executor for the given sandbox mode.
// An empty mode selects the host executor.
func (f *ExecutorFactory) CreateFromConfig(mode SandboxMode) (AuditedExecutor, error) {
	switch mode {
	case SandboxHost, "":
		return f.CreateDirect(), nil
	case SandboxContainer:
		executor, err := f.CreateContainer()
		if err != nil {
			return nil, err
		}
		return executor, nil
	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", mode)
	}
}
