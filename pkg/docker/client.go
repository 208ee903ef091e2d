package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/hemostat/hemostat/pkg/models"
	"github.com/hemostat/hemostat/pkg/retry"
)

// Client implements Runtime on top of the Docker Engine API. The
// connection comes from the standard environment (DOCKER_HOST et al.)
// with API version negotiation.
type Client struct {
	api    client.APIClient
	logger *slog.Logger
}

var _ Runtime = (*Client)(nil)

// Connect dials the Docker daemon and verifies it with a ping, retrying
// transient failures with bounded backoff.
func Connect(ctx context.Context, retryMax int, retryDelay time.Duration) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	logger := slog.Default().With("component", "docker")
	err = retry.Do(ctx, retryMax, retryDelay, nil, func(ctx context.Context) error {
		if _, err := api.Ping(ctx); err != nil {
			logger.Warn("Docker daemon unreachable, retrying", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		_ = api.Close()
		return nil, fmt.Errorf("pinging docker daemon: %w", err)
	}

	logger.Info("Connected to Docker daemon")
	return &Client{api: api, logger: logger}, nil
}

// NewFromAPI wraps an existing API client. Used by tests.
func NewFromAPI(api client.APIClient) *Client {
	return &Client{api: api, logger: slog.Default().With("component", "docker")}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error { return c.api.Close() }

func (c *Client) ListContainers(ctx context.Context, f ListFilter) ([]Container, error) {
	args := filters.NewArgs()
	for _, s := range f.Statuses {
		args.Add("status", s)
	}
	for _, l := range f.Labels {
		args.Add("label", l)
	}
	if f.Ancestor != "" {
		args.Add("ancestor", f.Ancestor)
	}

	opts := container.ListOptions{All: f.All}
	if args.Len() > 0 {
		opts.Filters = args
	}
	summaries, err := c.api.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	out := make([]Container, 0, len(summaries))
	for _, s := range summaries {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		out = append(out, Container{
			ID:      ShortID(s.ID),
			Name:    name,
			Image:   s.Image,
			ImageID: s.ImageID,
			Status:  s.State,
			Labels:  s.Labels,
		})
	}
	return out, nil
}

func (c *Client) Inspect(ctx context.Context, ref string) (*ContainerDetail, error) {
	info, err := c.api.ContainerInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, notFound(ref)
		}
		return nil, fmt.Errorf("inspecting container %s: %w", ref, err)
	}

	d := &ContainerDetail{
		Container: Container{
			ID:      ShortID(info.ID),
			Name:    strings.TrimPrefix(info.Name, "/"),
			ImageID: info.Image,
		},
		HealthStatus: models.HealthUnknown,
	}
	if info.Config != nil {
		d.Image = info.Config.Image
		d.Labels = info.Config.Labels
	}
	if info.State != nil {
		d.Status = info.State.Status
		d.ExitCode = info.State.ExitCode
		if info.State.Health != nil {
			switch info.State.Health.Status {
			case "healthy":
				d.HealthStatus = models.HealthHealthy
			case "unhealthy":
				d.HealthStatus = models.HealthUnhealthy
			case "starting":
				d.HealthStatus = models.HealthStarting
			}
		}
	}
	d.RestartCount = info.RestartCount
	return d, nil
}

func (c *Client) Stats(ctx context.Context, id string) (*models.Metrics, error) {
	resp, err := c.api.ContainerStatsOneShot(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("reading stats for %s: %w", id, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding stats for %s: %w", id, err)
	}
	m := MetricsFromStats(&stats)
	return &m, nil
}

func (c *Client) Restart(ctx context.Context, ref string, stopTimeout time.Duration) error {
	secs := int(stopTimeout / time.Second)
	err := c.api.ContainerRestart(ctx, ref, container.StopOptions{Timeout: &secs})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return notFound(ref)
		}
		return fmt.Errorf("restarting container %s: %w", ref, err)
	}
	c.logger.Info("Restarted container", "container", ref, "stop_timeout", stopTimeout)
	return nil
}

func (c *Client) Remove(ctx context.Context, ref string, removeVolumes bool) error {
	err := c.api.ContainerRemove(ctx, ref, container.RemoveOptions{RemoveVolumes: removeVolumes})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return notFound(ref)
		}
		return fmt.Errorf("removing container %s: %w", ref, err)
	}
	return nil
}

// Exec runs command inside ref and returns the exit code and combined
// stdout/stderr. The command string is split on whitespace; shell
// metacharacters are not interpreted.
func (c *Client) Exec(ctx context.Context, ref, command string) (int, string, error) {
	created, err := c.api.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          strings.Fields(command),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, "", notFound(ref)
		}
		return 0, "", fmt.Errorf("creating exec in %s: %w", ref, err)
	}

	attach, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("attaching exec in %s: %w", ref, err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil {
		return 0, "", fmt.Errorf("reading exec output from %s: %w", ref, err)
	}

	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, "", fmt.Errorf("inspecting exec in %s: %w", ref, err)
	}
	return inspect.ExitCode, buf.String(), nil
}

// ScaleUpService bumps the replica count of the named swarm service by
// one. Non-replicated services are reported as not found.
func (c *Client) ScaleUpService(ctx context.Context, serviceName string) (*models.ScaleDetails, bool, error) {
	args := filters.NewArgs(filters.Arg("name", serviceName))
	services, err := c.api.ServiceList(ctx, types.ServiceListOptions{Filters: args})
	if err != nil {
		return nil, false, fmt.Errorf("listing services: %w", err)
	}

	for _, svc := range services {
		if svc.Spec.Name != serviceName || svc.Spec.Mode.Replicated == nil {
			continue
		}
		current := uint64(1)
		if svc.Spec.Mode.Replicated.Replicas != nil {
			current = *svc.Spec.Mode.Replicated.Replicas
		}
		next := current + 1
		spec := svc.Spec
		spec.Mode.Replicated.Replicas = &next
		if _, err := c.api.ServiceUpdate(ctx, svc.ID, svc.Version, spec, types.ServiceUpdateOptions{}); err != nil {
			return nil, true, fmt.Errorf("scaling service %s: %w", serviceName, err)
		}
		c.logger.Info("Scaled service", "service", serviceName,
			"previous_replicas", current, "new_replicas", next)
		return &models.ScaleDetails{
			Service:          serviceName,
			PreviousReplicas: current,
			NewReplicas:      next,
		}, true, nil
	}
	return nil, false, nil
}

func (c *Client) PruneVolumes(ctx context.Context, labels []string) (int, uint64, error) {
	args := filters.NewArgs()
	for _, l := range labels {
		args.Add("label", l)
	}
	var report volume.PruneReport
	report, err := c.api.VolumesPrune(ctx, args)
	if err != nil {
		return 0, 0, fmt.Errorf("pruning volumes: %w", err)
	}
	return len(report.VolumesDeleted), report.SpaceReclaimed, nil
}
