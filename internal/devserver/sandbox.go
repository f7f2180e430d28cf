package devserver

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/sandbox"
)

// handleSandbox serves one isolated worker per WebSocket connection.
// The remote peer speaks the host side of the boundary protocol: init,
// execute/runFile/clearCache requests, syncFile mirroring. The worker's
// filesystem is its own; nothing it does touches the server's.
func (s *Server) handleSandbox(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Sandbox upgrade failed", zap.Error(err))
		return
	}

	// The origin is pinned at upgrade time; frames arriving later cannot
	// claim a different one.
	hostOrigin := c.GetHeader("Origin")
	if hostOrigin == "" {
		hostOrigin = "http://" + c.Request.Host
	}

	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()

	transport := sandbox.NewWSTransport(conn, hostOrigin)
	defer transport.Close()

	worker := sandbox.NewWorker(transport, sandbox.WorkerConfig{
		HostOrigin: hostOrigin,
		Logger:     s.log,
	})
	if err := worker.Run(c.Request.Context()); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("Sandbox worker exited", zap.Error(err))
	}
}
