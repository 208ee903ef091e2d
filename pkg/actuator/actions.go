package actuator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hemostat/hemostat/pkg/docker"
	"github.com/hemostat/hemostat/pkg/models"
)

const (
	restartStopTimeout = 10 * time.Second
	restartWait        = 30 * time.Second
	restartPollEvery   = time.Second

	execOutputLimit = 1000
)

// execAllowlist is the read-only diagnostic set. The first
// whitespace-delimited token of the requested command is matched.
var execAllowlist = map[string]bool{
	"ps": true, "top": true, "df": true, "free": true,
	"netstat": true, "ss": true, "env": true, "pwd": true,
	"whoami": true, "date": true, "uptime": true, "uname": true,
}

func failed(req *models.RemediationRequest, err error) models.ActionResult {
	return models.ActionResult{
		Status:    models.StatusFailed,
		Action:    req.Action,
		Container: req.Container,
		Error:     err.Error(),
	}
}

// restart issues a graceful restart and waits up to restartWait for the
// container to come back as running.
func (a *Agent) restart(ctx context.Context, req *models.RemediationRequest) models.ActionResult {
	if err := a.runtime.Restart(ctx, req.Container, restartStopTimeout); err != nil {
		return failed(req, err)
	}

	deadline := a.clk.Now().Add(restartWait)
	for {
		detail, err := a.runtime.Inspect(ctx, req.Container)
		if err != nil {
			return failed(req, err)
		}
		if detail.Status == "running" {
			return models.ActionResult{
				Status:    models.StatusSuccess,
				Action:    req.Action,
				Container: req.Container,
				Details:   "container restarted and running",
			}
		}
		if !a.clk.Now().Before(deadline) {
			return failed(req, fmt.Errorf("container did not reach running within %s", restartWait))
		}
		if err := a.clk.Sleep(ctx, restartPollEvery); err != nil {
			return failed(req, err)
		}
	}
}

// scaleUp bumps the replica count of the swarm service the container
// belongs to. A container without a service label, or a label that
// matches no service, is not_applicable rather than a failure.
func (a *Agent) scaleUp(ctx context.Context, req *models.RemediationRequest) models.ActionResult {
	detail, err := a.runtime.Inspect(ctx, req.Container)
	if err != nil {
		return failed(req, err)
	}

	service := detail.Labels[docker.LabelSwarmService]
	if service == "" {
		return models.ActionResult{
			Status:    models.StatusNotApplicable,
			Action:    req.Action,
			Container: req.Container,
			Details:   "container is not part of an orchestrator service",
		}
	}

	details, found, err := a.runtime.ScaleUpService(ctx, service)
	if err != nil {
		return failed(req, err)
	}
	if !found {
		return models.ActionResult{
			Status:    models.StatusNotApplicable,
			Action:    req.Action,
			Container: req.Container,
			Details:   fmt.Sprintf("no service named %q found", service),
		}
	}
	return models.ActionResult{
		Status:    models.StatusSuccess,
		Action:    req.Action,
		Container: req.Container,
		Details: fmt.Sprintf("scaled %s from %d to %d replicas",
			details.Service, details.PreviousReplicas, details.NewReplicas),
		Scale: details,
	}
}

// cleanup removes stopped containers in the target's scope and prunes
// volumes with the same scope. Scope comes from the orchestrator labels
// when present, otherwise from the target's image id; running containers
// are never removed.
func (a *Agent) cleanup(ctx context.Context, req *models.RemediationRequest) models.ActionResult {
	detail, err := a.runtime.Inspect(ctx, req.Container)
	if err != nil {
		return failed(req, err)
	}

	var scopeLabels []string
	filter := docker.ListFilter{All: true, Statuses: []string{"exited", "created", "dead"}}
	switch {
	case detail.Labels[docker.LabelComposeProject] != "":
		scopeLabels = []string{docker.LabelComposeProject + "=" + detail.Labels[docker.LabelComposeProject]}
	case detail.Labels[docker.LabelSwarmService] != "":
		scopeLabels = []string{docker.LabelSwarmService + "=" + detail.Labels[docker.LabelSwarmService]}
	default:
		filter.Ancestor = detail.ImageID
	}
	filter.Labels = scopeLabels

	candidates, err := a.runtime.ListContainers(ctx, filter)
	if err != nil {
		return failed(req, err)
	}

	stats := models.CleanupStats{}
	for _, c := range candidates {
		if c.Status == "running" {
			continue
		}
		if err := a.runtime.Remove(ctx, c.ID, true); err != nil {
			stats.Notes = append(stats.Notes, fmt.Sprintf("removing %s: %v", c.Name, err))
			continue
		}
		stats.ContainersRemoved++
	}

	// Unscoped pruning is only safe once the scope demonstrably matched
	// something; otherwise an ancestor-only cleanup could sweep
	// unrelated volumes.
	if len(scopeLabels) > 0 || stats.ContainersRemoved > 0 {
		removed, reclaimed, err := a.runtime.PruneVolumes(ctx, scopeLabels)
		if err != nil {
			stats.Notes = append(stats.Notes, fmt.Sprintf("pruning volumes: %v", err))
		} else {
			stats.VolumesRemoved = removed
			stats.SpaceReclaimedBytes = reclaimed
		}
	} else {
		stats.Notes = append(stats.Notes, "volume pruning skipped: no scope labels and nothing removed")
	}

	return models.ActionResult{
		Status:    models.StatusSuccess,
		Action:    req.Action,
		Container: req.Container,
		Details: fmt.Sprintf("removed %d containers, %d volumes, reclaimed %d bytes",
			stats.ContainersRemoved, stats.VolumesRemoved, stats.SpaceReclaimedBytes),
		Cleanup: &stats,
	}
}

// exec runs a diagnostic command inside the container, gated by the
// allow-list when strict enforcement is on.
func (a *Agent) exec(ctx context.Context, req *models.RemediationRequest) models.ActionResult {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return models.ActionResult{
			Status:    models.StatusRejected,
			Action:    req.Action,
			Container: req.Container,
			Reason:    "no command specified",
		}
	}

	token := strings.Fields(command)[0]
	if !execAllowlist[token] {
		if a.cfg.EnforceExecAllowlist {
			a.logger.Warn("Exec command rejected by allow-list",
				"container", req.Container, "command", token)
			return models.ActionResult{
				Status:    models.StatusRejected,
				Action:    req.Action,
				Container: req.Container,
				Reason:    fmt.Sprintf("command %q not in allow-list", token),
				Command:   command,
			}
		}
		a.logger.Warn("Exec command outside allow-list, enforcement disabled",
			"container", req.Container, "command", token)
	}

	exitCode, output, err := a.runtime.Exec(ctx, req.Container, command)
	if err != nil {
		return failed(req, err)
	}
	if len(output) > execOutputLimit {
		output = output[:execOutputLimit]
	}

	status := models.StatusSuccess
	if exitCode != 0 {
		status = models.StatusFailed
	}
	return models.ActionResult{
		Status:    status,
		Action:    req.Action,
		Container: req.Container,
		Command:   command,
		ExitCode:  exitCode,
		Output:    output,
	}
}
