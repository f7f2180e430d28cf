package runtime

import (
	"github.com/GriffinCanCode/webnode/internal/shared/id"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// Session is a REPL evaluation context. Each session owns its own
// Loader (and therefore VM), so var/let/const declarations persist
// across Eval calls within the session and never leak across sessions.
// Sessions share the filesystem with their creator.
type Session struct {
	ID     id.SessionID
	loader *Loader
}

// NewSession creates a REPL session over fs.
func NewSession(fsys *vfs.FS, cfg Config) *Session {
	return &Session{
		ID:     id.NewSessionID(),
		loader: New(fsys, cfg),
	}
}

// Eval evaluates one statement or expression against the session's
// persistent environment and returns the completion value.
func (s *Session) Eval(code string) (interface{}, error) {
	return s.loader.Execute(code)
}

// Loader exposes the session's loader, e.g. to register extra builtins.
func (s *Session) Loader() *Loader { return s.loader }
