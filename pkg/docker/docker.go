// Package docker wraps the container runtime API behind the narrow
// Runtime interface the agents consume: read operations for the Observer
// (list, inspect, one-shot stats) and write operations for the Actuator
// (restart, remove, exec, service scale, volume prune).
package docker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hemostat/hemostat/pkg/models"
)

// ErrNotFound reports a missing container or service referent.
var ErrNotFound = errors.New("not found")

// Well-known orchestrator labels used for scale and cleanup scoping.
const (
	LabelSwarmService   = "com.docker.swarm.service.name"
	LabelComposeProject = "com.docker.compose.project"
	LabelComposeService = "com.docker.compose.service"
)

// Container is the summary record returned by ListContainers.
type Container struct {
	ID      string // short id (12 chars)
	Name    string
	Image   string
	ImageID string
	Status  string // running, exited, ...
	Labels  map[string]string
}

// ContainerDetail adds the inspected health fields to a summary.
type ContainerDetail struct {
	Container
	HealthStatus models.HealthStatus
	ExitCode     int
	RestartCount int
}

// ListFilter narrows ListContainers. Zero value lists running containers.
type ListFilter struct {
	All      bool     // include non-running containers
	Statuses []string // e.g. ["running", "exited"]
	Labels   []string // label filters, "key=value"
	Ancestor string   // image id ancestor filter
}

// Runtime is the container runtime surface the agents depend on.
// *Client implements it; tests substitute fakes.
type Runtime interface {
	// ListContainers enumerates containers matching the filter.
	ListContainers(ctx context.Context, f ListFilter) ([]Container, error)
	// Inspect resolves a container by name or id. Returns ErrNotFound
	// when no such container exists.
	Inspect(ctx context.Context, ref string) (*ContainerDetail, error)
	// Stats takes a single non-streaming stats snapshot.
	Stats(ctx context.Context, id string) (*models.Metrics, error)
	// Restart issues a graceful restart with the given stop timeout.
	Restart(ctx context.Context, ref string, stopTimeout time.Duration) error
	// Remove deletes a container, optionally with its anonymous volumes.
	Remove(ctx context.Context, ref string, removeVolumes bool) error
	// Exec runs a command inside a running container and returns its
	// exit code and combined output.
	Exec(ctx context.Context, ref, command string) (int, string, error)
	// ScaleUpService increments the replica count of a swarm service.
	// found is false when no service with that name exists.
	ScaleUpService(ctx context.Context, serviceName string) (details *models.ScaleDetails, found bool, err error)
	// PruneVolumes removes unused volumes matching the label filters and
	// returns the count removed and bytes reclaimed.
	PruneVolumes(ctx context.Context, labels []string) (removed int, reclaimed uint64, err error)
}

// ShortID truncates a full container id to the familiar 12-char form.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func notFound(ref string) error {
	return fmt.Errorf("container %s: %w", ref, ErrNotFound)
}
