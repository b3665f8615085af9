package lifecycle

import "context"

// Component is a long-running part of the process managed by a Manager.
type Component interface {
	// Start launches the component. It must not block past startup.
	Start(ctx context.Context) error

	// Stop releases the component within the context deadline.
	Stop(ctx context.Context) error

	// Name identifies the component in logs and errors.
	Name() string
}
