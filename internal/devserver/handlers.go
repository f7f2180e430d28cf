package devserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/npm"
	"github.com/GriffinCanCode/webnode/internal/runtime"
	"github.com/GriffinCanCode/webnode/internal/shared/id"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "webnode"})
}

func (s *Server) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(http.StatusBadRequest, "bad_request", err))
		return
	}

	val, captured, err := s.execute(func() (interface{}, error) {
		return s.loader.Execute(req.Code)
	})
	if err != nil {
		s.metrics.RecordRequire("failed")
		c.JSON(http.StatusOK, fail(statusForError(err), "evaluation", err))
		return
	}
	s.metrics.RecordRequire("ok")
	c.JSON(http.StatusOK, ok(ExecutionBody{Value: val, Console: captured}))
}

func (s *Server) handleRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(http.StatusBadRequest, "bad_request", err))
		return
	}

	val, captured, err := s.execute(func() (interface{}, error) {
		return s.loader.RunFile(req.Path)
	})
	if err != nil {
		s.metrics.RecordRequire("failed")
		c.JSON(http.StatusOK, fail(statusForError(err), "evaluation", err))
		return
	}
	s.metrics.RecordRequire("ok")
	c.JSON(http.StatusOK, ok(ExecutionBody{Value: val, Console: captured}))
}

func (s *Server) handleInstall(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(http.StatusBadRequest, "bad_request", err))
		return
	}

	start := time.Now()
	result, err := s.installer.Install(c.Request.Context(), req.Name, req.Range)
	if err != nil {
		s.metrics.RecordInstall("failed", 0, time.Since(start))
		s.log.Warn("Install failed", zap.String("package", req.Name), zap.Error(err))
		c.JSON(http.StatusOK, fail(http.StatusBadGateway, "installation", err))
		return
	}
	s.metrics.RecordInstall("success", len(result.Packages), time.Since(start))

	// New packages invalidate negative resolutions.
	s.execMu.Lock()
	s.loader.ClearCache()
	s.metrics.ModulesCached.Set(0)
	s.execMu.Unlock()

	c.JSON(http.StatusOK, ok(result))
}

func (s *Server) handleClearCache(c *gin.Context) {
	s.execMu.Lock()
	s.loader.ClearCache()
	s.metrics.ModulesCached.Set(0)
	s.execMu.Unlock()
	c.JSON(http.StatusOK, ok(gin.H{"cleared": true}))
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.fs.Snapshot())
}

func (s *Server) handleRestore(c *gin.Context) {
	var snap vfs.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, fail(http.StatusBadRequest, "bad_request", err))
		return
	}
	if err := s.fs.Restore(&snap); err != nil {
		c.JSON(http.StatusInternalServerError, fail(http.StatusInternalServerError, "filesystem", err))
		return
	}
	s.execMu.Lock()
	s.loader.ClearCache()
	s.execMu.Unlock()
	c.JSON(http.StatusOK, ok(gin.H{"files": len(snap.Files)}))
}

func (s *Server) handleCreateSession(c *gin.Context) {
	session := runtime.NewSession(s.fs, runtime.Config{
		Transformer: s.transformer,
	})
	s.sessionMu.Lock()
	s.sessions[session.ID] = session
	s.metrics.SessionsActive.Set(float64(len(s.sessions)))
	s.sessionMu.Unlock()
	s.metrics.SessionsTotal.Inc()

	c.JSON(http.StatusOK, ok(gin.H{"id": session.ID.String()}))
}

func (s *Server) handleListSessions(c *gin.Context) {
	s.sessionMu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		ids = append(ids, sid.String())
	}
	s.sessionMu.Unlock()
	c.JSON(http.StatusOK, ok(gin.H{"sessions": ids}))
}

func (s *Server) handleEval(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	s.sessionMu.Lock()
	session, ok2 := s.sessions[sid]
	s.sessionMu.Unlock()
	if !ok2 {
		c.JSON(http.StatusNotFound, fail(http.StatusNotFound, "session", errors.New("session not found")))
		return
	}

	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(http.StatusBadRequest, "bad_request", err))
		return
	}

	val, _, err := s.execute(func() (interface{}, error) {
		return session.Eval(req.Code)
	})
	if err != nil {
		c.JSON(http.StatusOK, fail(statusForError(err), "evaluation", err))
		return
	}
	c.JSON(http.StatusOK, ok(ExecutionBody{Value: val}))
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	s.sessionMu.Lock()
	_, found := s.sessions[sid]
	delete(s.sessions, sid)
	s.metrics.SessionsActive.Set(float64(len(s.sessions)))
	s.sessionMu.Unlock()
	if !found {
		c.JSON(http.StatusNotFound, fail(http.StatusNotFound, "session", errors.New("session not found")))
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"deleted": sid.String()}))
}

// statusForError maps the error taxonomy onto the embedded response
// shape: resolution and filesystem misses are client errors, everything
// else is an evaluation failure.
func statusForError(err error) int {
	var resErr *runtime.ResolutionError
	if errors.As(err, &resErr) {
		return http.StatusNotFound
	}
	var fsErr *vfs.Error
	if errors.As(err, &fsErr) {
		if fsErr.Code == vfs.CodeNoEnt {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	}
	var instErr *npm.InstallError
	if errors.As(err, &instErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
