package runtime

import (
	"fmt"

	"github.com/dop251/goja"
)

// Module is a cached module record. Exports identity is stable for a
// given ID until the cache is cleared.
type Module struct {
	ID       string
	Exports  goja.Value
	Filename string
	Loaded   bool
}

// Transformer lowers ESM source to CommonJS. Implementations must pass
// top-level-await code through unchanged rather than erroring.
type Transformer interface {
	Transform(code, filename string) (string, error)
}

// BuiltinFactory constructs a builtin module's export object for a
// Loader. The result is cached per Loader.
type BuiltinFactory func(l *Loader) goja.Value

// ConsoleFunc receives console output from evaluated code.
type ConsoleFunc func(level, message string)

// Config configures a Loader.
type Config struct {
	// Transformer lowers ESM to CJS. Required for ESM interop; when
	// nil, modules with ESM syntax fail to load.
	Transformer Transformer
	// Console receives console.log/warn/error/info output. When nil,
	// output is discarded.
	Console ConsoleFunc
	// Env seeds process.env.
	Env map[string]string
}

// ResolutionError reports an unresolvable specifier. It is fatal to the
// requiring module and never retried.
type ResolutionError struct {
	Specifier string
	Requester string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("Cannot find module '%s' required from '%s'", e.Specifier, e.Requester)
}

// ErrTopLevelAwait marks a module that uses top-level await and
// therefore cannot be required synchronously.
type ErrTopLevelAwait struct {
	Filename string
}

func (e *ErrTopLevelAwait) Error() string {
	return fmt.Sprintf("module '%s' uses top-level await and cannot be required", e.Filename)
}
