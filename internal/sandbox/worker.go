package sandbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/runtime"
	"github.com/GriffinCanCode/webnode/internal/transform"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// builtinNames seeds the ESM lowerer with the loader's default builtin
// table so dynamic imports of builtins resolve synchronously.
var builtinNames = []string{"fs", "path", "os", "process", "buffer", "events", "util"}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// HostOrigin is the only origin frames are accepted from.
	HostOrigin string
	// Env seeds process.env inside the worker.
	Env    map[string]string
	Logger *logging.Logger
}

// Worker is the untrusted side of the boundary: its own filesystem
// mirror and its own loader. Run drives it until the transport closes.
type Worker struct {
	fs        *vfs.FS
	loader    *runtime.Loader
	transport Transport
	cfg       WorkerConfig
	log       *logging.Logger
}

// NewWorker creates a worker over transport with a fresh filesystem
// mirror.
func NewWorker(transport Transport, cfg WorkerConfig) *Worker {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	w := &Worker{
		fs:        vfs.New(),
		transport: transport,
		cfg:       cfg,
		log:       log.Named("sandbox.worker"),
	}
	w.loader = runtime.New(w.fs, runtime.Config{
		Transformer: transform.NewLowerer(builtinNames),
		Env:         cfg.Env,
		Console: func(level, message string) {
			w.send(&Envelope{Type: TypeConsole, Level: level, Message: message})
		},
	})
	return w
}

// FS exposes the worker's filesystem mirror, mainly for tests.
func (w *Worker) FS() *vfs.FS { return w.fs }

// Run announces readiness and serves requests until the context is
// cancelled or the transport closes.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.send(&Envelope{Type: TypeReady}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.transport.Done():
			return nil
		case frame := <-w.transport.Receive():
			w.handleFrame(frame)
		}
	}
}

func (w *Worker) handleFrame(frame Inbound) {
	if frame.Origin != w.cfg.HostOrigin {
		w.log.Warn("Dropped frame from unexpected origin",
			zap.String("origin", frame.Origin),
			zap.String("expected", w.cfg.HostOrigin))
		return
	}
	env, err := decodeEnvelope(frame.Data)
	if err != nil {
		w.log.Warn("Dropped undecodable frame", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeInit:
		if env.Snapshot != nil {
			if err := w.fs.Restore(env.Snapshot); err != nil {
				w.log.Error("Snapshot restore failed", zap.Error(err))
			}
		}
	case TypeSyncFile:
		w.applySync(env)
	case TypeExecute:
		val, err := w.loader.Execute(env.Code)
		w.reply(env.ID, val, err)
	case TypeRunFile:
		val, err := w.loader.RunFile(env.Path)
		w.reply(env.ID, val, err)
	case TypeClearCache:
		w.loader.ClearCache()
		w.reply(env.ID, nil, nil)
	default:
		w.log.Warn("Dropped unexpected frame type", zap.String("type", string(env.Type)))
	}
}

// applySync mirrors one host-side mutation. Sync is one-directional:
// nothing here echoes back to the host.
func (w *Worker) applySync(env *Envelope) {
	var err error
	switch {
	case env.Deleted:
		err = w.fs.RemoveAll(env.Path)
	case env.Dir:
		err = w.fs.Mkdir(env.Path, true)
	default:
		err = w.fs.WriteFile(env.Path, env.Content)
	}
	if err != nil {
		w.log.Warn("Sync apply failed", zap.String("path", env.Path), zap.Error(err))
	}
}

func (w *Worker) reply(id uint64, val interface{}, err error) {
	if err != nil {
		w.send(&Envelope{Type: TypeError, ID: id, Error: err.Error()})
		return
	}
	data, encErr := encodeEnvelope(&Envelope{Type: TypeResult, ID: id, Value: val})
	if encErr != nil {
		// Non-serializable completion value (a function, say). The
		// call still succeeded; report the value as unavailable.
		w.send(&Envelope{Type: TypeError, ID: id, Error: "result is not serializable"})
		return
	}
	w.transport.Send(data)
}

func (w *Worker) send(env *Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		w.log.Error("Encode failed", zap.String("type", string(env.Type)), zap.Error(err))
		return err
	}
	if err := w.transport.Send(data); err != nil {
		if err != ErrTransportClosed {
			w.log.Warn("Send failed", zap.Error(err))
		}
		return err
	}
	return nil
}
