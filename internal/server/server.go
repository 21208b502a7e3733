// Package server wires the liveness/readiness gRPC surface this binary
// exposes. The full signing/DKG request-response RPC surface belongs to an
// external collaborator (see internal/orchestrator), so this package only
// reports whether the in-process dependencies this node owns are healthy:
// the KMS provider, the envelope share store, and the audit store.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/thresh-vault/signer/internal/audit"
	"github.com/thresh-vault/signer/internal/dkg"
	"github.com/thresh-vault/signer/internal/envelope"
	"github.com/thresh-vault/signer/internal/signing"
)

const healthPollInterval = 15 * time.Second

// HealthChecker reports whether a dependency this node owns is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// HealthServer implements grpc_health_v1.HealthServer by polling the
// envelope store, audit store, and KMS provider on an interval and serving
// the last observed status, so a call never blocks on a slow dependency.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	shares *envelope.Store
	trail  audit.Store
	logger *zap.Logger

	dkgCoordinator     *dkg.Coordinator
	signingCoordinator *signing.Coordinator

	mu      sync.RWMutex
	serving bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewHealthServer builds a HealthServer and starts its background poll
// loop. Call Close to stop the loop on shutdown.
func NewHealthServer(shares *envelope.Store, trail audit.Store, dkgCoordinator *dkg.Coordinator, signingCoordinator *signing.Coordinator, logger *zap.Logger) *HealthServer {
	h := &HealthServer{
		shares:             shares,
		trail:              trail,
		dkgCoordinator:     dkgCoordinator,
		signingCoordinator: signingCoordinator,
		logger:             logger,
		stop:               make(chan struct{}),
	}
	h.poll()
	h.wg.Add(1)
	go h.loop()
	return h
}

func (h *HealthServer) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.poll()
		case <-h.stop:
			return
		}
	}
}

func (h *HealthServer) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok := h.shares.HealthCheck(ctx) && h.trail.HealthCheck(ctx)

	h.mu.Lock()
	h.serving = ok
	h.mu.Unlock()

	if !ok {
		h.logger.Warn("health check failed", zap.Bool("shares_or_audit_unhealthy", true))
	}
}

// Check implements grpc_health_v1.HealthServer.
func (h *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	h.mu.RLock()
	ok := h.serving
	h.mu.RUnlock()

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	return &healthpb.HealthCheckResponse{Status: status}, nil
}

// Watch implements grpc_health_v1.HealthServer by sending one snapshot and
// then blocking until ctx is done; this node's health does not warrant a
// push-streaming implementation beyond that.
func (h *HealthServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	resp, err := h.Check(stream.Context(), req)
	if err != nil {
		return err
	}
	if err := stream.Send(resp); err != nil {
		return err
	}
	<-stream.Context().Done()
	return stream.Context().Err()
}

// Close stops the poll loop and the wrapped DKG/signing coordinators' own
// TTL sweeps.
func (h *HealthServer) Close() {
	close(h.stop)
	h.wg.Wait()
	h.dkgCoordinator.Close()
	h.signingCoordinator.Close()
}
