package devserver

import (
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// extensionTypes overrides content sniffing for types that sniff as
// plain text.
var extensionTypes = map[string]string{
	".js":   "text/javascript; charset=utf-8",
	".mjs":  "text/javascript; charset=utf-8",
	".cjs":  "text/javascript; charset=utf-8",
	".jsx":  "text/javascript; charset=utf-8",
	".ts":   "text/javascript; charset=utf-8",
	".tsx":  "text/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".svg":  "image/svg+xml",
	".map":  "application/json; charset=utf-8",
}

func (s *Server) handleReadFile(c *gin.Context) {
	path := vfs.Normalize(c.Param("path"))

	info, err := s.fs.Stat(path)
	if err != nil {
		c.JSON(http.StatusNotFound, fail(http.StatusNotFound, "filesystem", err))
		return
	}

	if info.IsDir() {
		entries, err := s.fs.ReadDir(path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, fail(http.StatusInternalServerError, "filesystem", err))
			return
		}
		listing := make([]gin.H, 0, len(entries))
		for _, entry := range entries {
			listing = append(listing, gin.H{"name": entry.Name, "dir": entry.IsDir()})
		}
		c.JSON(http.StatusOK, gin.H{"path": path, "entries": listing})
		return
	}

	content, err := s.fs.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusNotFound, fail(http.StatusNotFound, "filesystem", err))
		return
	}
	c.Data(http.StatusOK, contentType(path, content), content)
}

func (s *Server) handleWriteFile(c *gin.Context) {
	path := vfs.Normalize(c.Param("path"))

	content, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(http.StatusBadRequest, "bad_request", err))
		return
	}
	if err := s.fs.WriteFile(path, content); err != nil {
		c.JSON(http.StatusUnprocessableEntity, fail(http.StatusUnprocessableEntity, "filesystem", err))
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"path": path, "bytes": len(content)}))
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	path := vfs.Normalize(c.Param("path"))

	if err := s.fs.RemoveAll(path); err != nil {
		c.JSON(http.StatusNotFound, fail(http.StatusNotFound, "filesystem", err))
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"deleted": path}))
}

// contentType resolves the response type: known web extensions first,
// then content sniffing.
func contentType(path string, content []byte) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		if typ, ok := extensionTypes[path[idx:]]; ok {
			return typ
		}
	}
	return mimetype.Detect(content).String()
}
