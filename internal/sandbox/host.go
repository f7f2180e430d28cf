package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// ErrTerminated reports a call against a terminated host.
var ErrTerminated = fmt.Errorf("sandbox terminated")

// HostConfig configures a Host.
type HostConfig struct {
	// WorkerOrigin is the only origin frames are accepted from; frames
	// from any other origin are dropped.
	WorkerOrigin string
	// CallTimeout bounds each execute/runFile round trip.
	CallTimeout time.Duration
	// ReadyTimeout bounds the bootstrap wait for the worker's ready
	// announcement.
	ReadyTimeout time.Duration
	// OnConsole receives console output forwarded from the worker.
	OnConsole func(level, message string)
	// Metrics, if set, records boundary calls, dropped frames and sync
	// frames.
	Metrics *monitoring.Metrics
	Logger  *logging.Logger
}

// DefaultHostConfig returns production-ready host configuration.
func DefaultHostConfig(workerOrigin string) HostConfig {
	return HostConfig{
		WorkerOrigin: workerOrigin,
		CallTimeout:  30 * time.Second,
		ReadyTimeout: 10 * time.Second,
	}
}

// Host is the trusted side of the boundary. It owns the authoritative
// filesystem and mirrors every change into the worker.
type Host struct {
	fs        *vfs.FS
	transport Transport
	cfg       HostConfig
	log       *logging.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Envelope

	ready      chan struct{}
	readyOnce  sync.Once
	terminated chan struct{}
	termOnce   sync.Once
	loopDone   chan struct{}

	// Cancel funcs for the mirror listeners Start registers.
	detach []func()
}

// NewHost creates a host over fsys and transport. Start must be called
// before issuing calls.
func NewHost(fsys *vfs.FS, transport Transport, cfg HostConfig) *Host {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	return &Host{
		fs:         fsys,
		transport:  transport,
		cfg:        cfg,
		log:        log.Named("sandbox.host"),
		pending:    make(map[uint64]chan *Envelope),
		ready:      make(chan struct{}),
		terminated: make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// Start runs the receive loop, waits for the worker's ready frame, and
// sends the init snapshot. Filesystem mirroring begins once init is
// sent, so the worker never observes a gap between snapshot and stream.
func (h *Host) Start(ctx context.Context) error {
	go h.receiveLoop()

	select {
	case <-h.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.terminated:
		return ErrTerminated
	case <-time.After(h.cfg.ReadyTimeout):
		return fmt.Errorf("worker not ready after %s", h.cfg.ReadyTimeout)
	}

	snapshot := h.fs.Snapshot()
	if err := h.send(&Envelope{Type: TypeInit, Snapshot: snapshot}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	cancelChange := h.fs.OnChange(func(path string, dir bool, content []byte) {
		err := h.send(&Envelope{Type: TypeSyncFile, Path: path, Dir: dir, Content: content})
		if err != nil && err != ErrTransportClosed {
			h.log.Warn("Sync send failed", zap.String("path", path), zap.Error(err))
			return
		}
		if err == nil && h.cfg.Metrics != nil {
			if dir {
				h.cfg.Metrics.RecordSyncFrame("mkdir")
			} else {
				h.cfg.Metrics.RecordSyncFrame("write")
			}
		}
	})
	cancelDelete := h.fs.OnDelete(func(path string) {
		err := h.send(&Envelope{Type: TypeSyncFile, Path: path, Deleted: true})
		if err != nil && err != ErrTransportClosed {
			h.log.Warn("Sync send failed", zap.String("path", path), zap.Error(err))
			return
		}
		if err == nil && h.cfg.Metrics != nil {
			h.cfg.Metrics.RecordSyncFrame("delete")
		}
	})
	h.mu.Lock()
	h.detach = append(h.detach, cancelChange, cancelDelete)
	h.mu.Unlock()

	h.log.Info("Worker ready", zap.Int("snapshot_files", len(snapshot.Files)))
	return nil
}

// Execute evaluates code in the worker and returns the completion
// value.
func (h *Host) Execute(ctx context.Context, code string) (interface{}, error) {
	return h.call(ctx, &Envelope{Type: TypeExecute, Code: code})
}

// RunFile loads the module at path in the worker and returns its
// exports.
func (h *Host) RunFile(ctx context.Context, path string) (interface{}, error) {
	return h.call(ctx, &Envelope{Type: TypeRunFile, Path: path})
}

// ClearCache drops the worker's module cache.
func (h *Host) ClearCache(ctx context.Context) error {
	_, err := h.call(ctx, &Envelope{Type: TypeClearCache})
	return err
}

// Terminate tears the boundary down: mirror listeners detach from the
// filesystem, all in-flight calls fail with ErrTerminated, and the
// worker's receive loop exits via the transport.
func (h *Host) Terminate() {
	h.termOnce.Do(func() {
		h.mu.Lock()
		detach := h.detach
		h.detach = nil
		h.mu.Unlock()
		for _, cancel := range detach {
			cancel()
		}

		close(h.terminated)
		h.transport.Close()

		// Waiters observe h.terminated; replies to a buffered pending
		// channel after this point are simply dropped.
		h.mu.Lock()
		for id := range h.pending {
			delete(h.pending, id)
		}
		h.mu.Unlock()

		<-h.loopDone
		h.log.Info("Terminated")
	})
}

// call sends a request envelope and waits for its correlated reply.
func (h *Host) call(ctx context.Context, env *Envelope) (interface{}, error) {
	select {
	case <-h.terminated:
		return nil, ErrTerminated
	default:
	}

	start := time.Now()
	record := func(status string) {
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.RecordSandboxCall(string(env.Type), status, time.Since(start))
		}
	}

	ch := make(chan *Envelope, 1)
	h.mu.Lock()
	h.nextID++
	env.ID = h.nextID
	h.pending[env.ID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, env.ID)
		h.mu.Unlock()
	}()

	if err := h.send(env); err != nil {
		record("send_failed")
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			record("terminated")
			return nil, ErrTerminated
		}
		if reply.Type == TypeError {
			record("error")
			return nil, fmt.Errorf("%s", reply.Error)
		}
		record("ok")
		return reply.Value, nil
	case <-ctx.Done():
		record("canceled")
		return nil, ctx.Err()
	case <-h.terminated:
		record("terminated")
		return nil, ErrTerminated
	case <-time.After(h.cfg.CallTimeout):
		record("timeout")
		return nil, fmt.Errorf("%s call %d timed out after %s", env.Type, env.ID, h.cfg.CallTimeout)
	}
}

func (h *Host) send(env *Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return h.transport.Send(data)
}

func (h *Host) receiveLoop() {
	defer close(h.loopDone)
	for {
		select {
		case <-h.transport.Done():
			return
		case frame := <-h.transport.Receive():
			h.handleFrame(frame)
		}
	}
}

func (h *Host) handleFrame(frame Inbound) {
	if frame.Origin != h.cfg.WorkerOrigin {
		h.dropFrame("origin")
		h.log.Warn("Dropped frame from unexpected origin",
			zap.String("origin", frame.Origin),
			zap.String("expected", h.cfg.WorkerOrigin))
		return
	}
	env, err := decodeEnvelope(frame.Data)
	if err != nil {
		h.dropFrame("decode")
		h.log.Warn("Dropped undecodable frame", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeReady:
		h.readyOnce.Do(func() { close(h.ready) })
	case TypeResult, TypeError:
		h.mu.Lock()
		ch, ok := h.pending[env.ID]
		h.mu.Unlock()
		if !ok {
			// Late reply after timeout or terminate.
			h.dropFrame("orphan_reply")
			h.log.Debug("Dropped reply with no pending call", zap.Uint64("id", env.ID))
			return
		}
		ch <- env
	case TypeConsole:
		if h.cfg.OnConsole != nil {
			h.cfg.OnConsole(env.Level, env.Message)
		}
	default:
		h.dropFrame("unexpected_type")
		h.log.Warn("Dropped unexpected frame type", zap.String("type", string(env.Type)))
	}
}

func (h *Host) dropFrame(reason string) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordDroppedFrame(reason)
	}
}
