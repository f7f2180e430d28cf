package devserver

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webnode/internal/infrastructure/config"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webnode/internal/npm"
)

// stubRegistry serves a single-version package graph from memory.
type stubRegistry struct {
	metadata map[string]*npm.PackageMetadata
	tarballs map[string][]byte
}

func newStubRegistry(t *testing.T) *stubRegistry {
	t.Helper()
	return &stubRegistry{
		metadata: make(map[string]*npm.PackageMetadata),
		tarballs: make(map[string][]byte),
	}
}

func (r *stubRegistry) add(t *testing.T, name, version, source string) {
	t.Helper()
	manifest := fmt.Sprintf(`{"name":%q,"version":%q,"main":"index.js"}`, name, version)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for path, content := range map[string]string{
		"package/package.json": manifest,
		"package/index.js":     source,
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: path, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	url := "mem://" + name + "/" + version
	r.tarballs[url] = buf.Bytes()
	r.metadata[name] = &npm.PackageMetadata{
		Name:     name,
		DistTags: map[string]string{"latest": version},
		Versions: map[string]npm.VersionMetadata{
			version: {
				Name:    name,
				Version: version,
				Main:    "index.js",
				Dist:    npm.DistInfo{Tarball: url},
			},
		},
	}
}

func (r *stubRegistry) Metadata(ctx context.Context, name string) (*npm.PackageMetadata, error) {
	meta, ok := r.metadata[name]
	if !ok {
		return nil, fmt.Errorf("package '%s' not found in registry", name)
	}
	return meta, nil
}

func (r *stubRegistry) Download(ctx context.Context, url string) ([]byte, error) {
	data, ok := r.tarballs[url]
	if !ok {
		return nil, fmt.Errorf("no tarball at %s", url)
	}
	return data, nil
}

func newTestServer(t *testing.T, registry npm.Registry) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	return NewServer(cfg, Options{
		Logger:   logging.NewNop(),
		Metrics:  monitoring.NewMetricsWith(prometheus.NewRegistry()),
		Registry: registry,
	})
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	w, body := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req_"))
}

func TestExecuteEndpoint(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))

	w, body := doJSON(t, s, http.MethodPost, "/execute", `{"code": "console.log('hey'); 2 + 2"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.EqualValues(t, 200, body["statusCode"])
	inner := body["body"].(map[string]interface{})
	assert.EqualValues(t, 4, inner["value"])
	console := inner["console"].([]interface{})
	require.Len(t, console, 1)
	line := console[0].(map[string]interface{})
	assert.Equal(t, "log", line["level"])
	assert.Equal(t, "hey", line["message"])
}

func TestExecuteErrorShape(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))

	_, body := doJSON(t, s, http.MethodPost, "/execute", `{"code": "nope()"}`)
	assert.EqualValues(t, 500, body["statusCode"])
	inner := body["body"].(map[string]interface{})
	assert.Contains(t, inner["error"], "nope")
}

func TestRunEndpoint(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	require.NoError(t, s.FS().WriteFile("/app.js", []byte("module.exports = { ready: true }")))

	_, body := doJSON(t, s, http.MethodPost, "/run", `{"path": "/app.js"}`)
	assert.EqualValues(t, 200, body["statusCode"])
	inner := body["body"].(map[string]interface{})
	value := inner["value"].(map[string]interface{})
	assert.Equal(t, true, value["ready"])
}

func TestRunMissingModuleIs404(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))

	_, body := doJSON(t, s, http.MethodPost, "/run", `{"path": "/ghost.js"}`)
	assert.EqualValues(t, 404, body["statusCode"])
}

func TestInstallThenRequire(t *testing.T) {
	reg := newStubRegistry(t)
	reg.add(t, "left-pad", "1.3.0", "module.exports = function leftPad(s, n) { s = String(s); while (s.length < n) s = ' ' + s; return s }")

	s := newTestServer(t, reg)
	_, body := doJSON(t, s, http.MethodPost, "/install", `{"name": "left-pad", "range": "^1.0.0"}`)
	assert.EqualValues(t, 200, body["statusCode"])

	_, body = doJSON(t, s, http.MethodPost, "/execute", `{"code": "require('left-pad')('7', 3)"}`)
	inner := body["body"].(map[string]interface{})
	assert.Equal(t, "  7", inner["value"])
}

func TestInstallFailureShape(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))

	_, body := doJSON(t, s, http.MethodPost, "/install", `{"name": "ghost-pkg"}`)
	assert.EqualValues(t, 502, body["statusCode"])
	inner := body["body"].(map[string]interface{})
	assert.Equal(t, "installation", inner["kind"])
}

func TestFilesRoundTrip(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))

	req := httptest.NewRequest(http.MethodPut, "/files/src/app.js", strings.NewReader("export const x = 1"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/files/src/app.js", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "export const x = 1", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")
}

func TestFilesDirectoryListing(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	require.NoError(t, s.FS().WriteFile("/src/a.js", []byte("1")))
	require.NoError(t, s.FS().WriteFile("/src/lib/b.js", []byte("2")))

	w, body := doJSON(t, s, http.MethodGet, "/files/src", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := body["entries"].([]interface{})
	assert.Len(t, entries, 2)
}

func TestFilesDelete(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	require.NoError(t, s.FS().WriteFile("/tmp.txt", []byte("x")))

	w, _ := doJSON(t, s, http.MethodDelete, "/files/tmp.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.FS().Exists("/tmp.txt"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	require.NoError(t, s.FS().WriteFile("/keep/me.txt", []byte("payload")))

	w, _ := doJSON(t, s, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshotJSON := w.Body.String()

	fresh := newTestServer(t, newStubRegistry(t))
	w, _ = doJSON(t, fresh, http.MethodPost, "/snapshot", snapshotJSON)
	require.Equal(t, http.StatusOK, w.Code)

	content, err := fresh.FS().ReadFile("/keep/me.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))

	_, body := doJSON(t, s, http.MethodPost, "/sessions", "")
	inner := body["body"].(map[string]interface{})
	sid := inner["id"].(string)
	require.NotEmpty(t, sid)

	_, body = doJSON(t, s, http.MethodPost, "/sessions/"+sid+"/eval", `{"code": "var n = 20"}`)
	assert.EqualValues(t, 200, body["statusCode"])

	_, body = doJSON(t, s, http.MethodPost, "/sessions/"+sid+"/eval", `{"code": "n + 1"}`)
	inner = body["body"].(map[string]interface{})
	assert.EqualValues(t, 21, inner["value"])

	w, _ := doJSON(t, s, http.MethodDelete, "/sessions/"+sid, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, s, http.MethodPost, "/sessions/"+sid+"/eval", `{"code": "1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSandboxEndpoint(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sandbox"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "ready", frame["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "init"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "syncFile", "path": "/mod.js", "content": []byte("module.exports = 6 * 7"),
	}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "runFile", "id": 1, "path": "/mod.js",
	}))

	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "result", frame["type"])
	assert.EqualValues(t, 1, frame["id"])
	assert.EqualValues(t, 42, frame["value"])

	// The worker's filesystem is isolated from the server's.
	assert.False(t, s.FS().Exists("/mod.js"))
}

func TestWebSocketREPL(t *testing.T) {
	s := newTestServer(t, newStubRegistry(t))
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Greeting frame.
	var greeting wsMessage
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, "system", greeting.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "eval", ID: 1, Code: "console.log('ws'); var a = 5; a * 2"}))

	var console wsMessage
	require.NoError(t, conn.ReadJSON(&console))
	assert.Equal(t, "console", console.Type)
	assert.Equal(t, "ws", console.Message)

	var result wsMessage
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "result", result.Type)
	assert.EqualValues(t, 1, result.ID)
	assert.EqualValues(t, 10, result.Value)

	// State persists within the connection.
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "eval", ID: 2, Code: "a"}))
	require.NoError(t, conn.ReadJSON(&result))
	assert.EqualValues(t, 5, result.Value)
}
