package devserver

// Response is the wire shape every execution-style endpoint returns:
// directly forwardable as an HTTP response by an embedding layer.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       interface{}       `json:"body"`
}

// ExecuteRequest evaluates a code string.
type ExecuteRequest struct {
	Code string `json:"code" binding:"required"`
}

// RunRequest loads a module by path.
type RunRequest struct {
	Path string `json:"path" binding:"required"`
}

// InstallRequest installs a package and its dependencies.
type InstallRequest struct {
	Name string `json:"name" binding:"required"`
	// Range is a semver range; empty means the latest dist-tag.
	Range string `json:"range"`
}

// EvalRequest evaluates code in an existing REPL session.
type EvalRequest struct {
	Code string `json:"code" binding:"required"`
}

// ExecutionBody is the body of a successful execution response.
type ExecutionBody struct {
	Value   interface{} `json:"value"`
	Console []Console   `json:"console,omitempty"`
}

// Console is one captured console line.
type Console struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorBody is the body of a failed response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func ok(body interface{}) Response {
	return Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func fail(status int, kind string, err error) Response {
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       ErrorBody{Error: err.Error(), Kind: kind},
	}
}
