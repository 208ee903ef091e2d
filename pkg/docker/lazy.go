package docker

import (
	"context"
	"sync"
	"time"

	"github.com/hemostat/hemostat/pkg/models"
)

// Lazy defers the daemon connection until the first call and keeps
// retrying the dial on subsequent calls until one succeeds, so an agent
// can start while the daemon is down and recover without a restart.
type Lazy struct {
	dial func(ctx context.Context) (Runtime, error)

	mu sync.Mutex
	rt Runtime
}

var _ Runtime = (*Lazy)(nil)

func NewLazy(dial func(ctx context.Context) (Runtime, error)) *Lazy {
	return &Lazy{dial: dial}
}

func (l *Lazy) get(ctx context.Context) (Runtime, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rt != nil {
		return l.rt, nil
	}
	rt, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	l.rt = rt
	return rt, nil
}

func (l *Lazy) ListContainers(ctx context.Context, f ListFilter) ([]Container, error) {
	rt, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return rt.ListContainers(ctx, f)
}

func (l *Lazy) Inspect(ctx context.Context, ref string) (*ContainerDetail, error) {
	rt, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return rt.Inspect(ctx, ref)
}

func (l *Lazy) Stats(ctx context.Context, id string) (*models.Metrics, error) {
	rt, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return rt.Stats(ctx, id)
}

func (l *Lazy) Restart(ctx context.Context, ref string, stopTimeout time.Duration) error {
	rt, err := l.get(ctx)
	if err != nil {
		return err
	}
	return rt.Restart(ctx, ref, stopTimeout)
}

func (l *Lazy) Remove(ctx context.Context, ref string, removeVolumes bool) error {
	rt, err := l.get(ctx)
	if err != nil {
		return err
	}
	return rt.Remove(ctx, ref, removeVolumes)
}

func (l *Lazy) Exec(ctx context.Context, ref, command string) (int, string, error) {
	rt, err := l.get(ctx)
	if err != nil {
		return 0, "", err
	}
	return rt.Exec(ctx, ref, command)
}

func (l *Lazy) ScaleUpService(ctx context.Context, serviceName string) (*models.ScaleDetails, bool, error) {
	rt, err := l.get(ctx)
	if err != nil {
		return nil, false, err
	}
	return rt.ScaleUpService(ctx, serviceName)
}

func (l *Lazy) PruneVolumes(ctx context.Context, labels []string) (int, uint64, error) {
	rt, err := l.get(ctx)
	if err != nil {
		return 0, 0, err
	}
	return rt.PruneVolumes(ctx, labels)
}
