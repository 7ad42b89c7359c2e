package instance

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/grovekit/grove/internal/domain"
)

// Provisioner brings database instances up and tears them down. Provision is
// called off the request path; implementations may take seconds.
type Provisioner interface {
	Provision(ctx context.Context, inst *domain.Instance) (endpoint string, port int, err error)
	Teardown(ctx context.Context, inst *domain.Instance) error
}

// SimProvisioner is the built-in provisioner for development and tests. It
// allocates endpoints from a local port counter and simulates transient
// orchestrator hiccups, retrying with exponential backoff the same way a
// real driver would talk to a flaky control plane.
type SimProvisioner struct {
	Latency   time.Duration // per-attempt simulated work
	FlakeRate float64       // probability one attempt fails transiently

	mu       sync.Mutex
	nextPort int
}

// NewSimProvisioner returns a provisioner with mild latency and no flakes.
func NewSimProvisioner() *SimProvisioner {
	return &SimProvisioner{Latency: 100 * time.Millisecond, nextPort: 30000}
}

func (p *SimProvisioner) allocatePort() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	port := p.nextPort
	p.nextPort++
	return port
}

// Provision simulates bringing up a database container.
func (p *SimProvisioner) Provision(ctx context.Context, inst *domain.Instance) (string, int, error) {
	var endpoint string
	var port int

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
		if p.FlakeRate > 0 && rand.Float64() < p.FlakeRate {
			return retry.RetryableError(fmt.Errorf("orchestrator busy"))
		}
		endpoint = fmt.Sprintf("%s-%s.grove.local", inst.Type, inst.Name)
		port = p.allocatePort()
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("provision %s: %w", inst.ExternalID, err)
	}
	log.Printf("[provisioner] %s up at %s:%d", inst.ExternalID, endpoint, port)
	return endpoint, port, nil
}

// Teardown simulates removing the container.
func (p *SimProvisioner) Teardown(ctx context.Context, inst *domain.Instance) error {
	select {
	case <-time.After(p.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
