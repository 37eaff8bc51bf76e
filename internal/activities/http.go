package activities

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowforge/engine/internal/execctx"
)

// HTTPActivity implements the `http` node type.
//
// config fields:
//
//	url:      request URL (required)
//	method:   HTTP method, default "GET"
//	timeout:  seconds, default 30
//	headers:  map[string]string merged over input["headers"]
//	token:    bearer token injected as "Authorization: Bearer <token>"
//	user/password: injected as HTTP Basic auth
//
// token and user/password typically arrive via secret injection (a `token`
// or `basic_auth` secret_ref merges these keys into config). An explicit
// `headers.Authorization` (from input or config) always wins over injection.
//
// Unlike a general-purpose HTTP client, a transport failure (DNS, connection
// refused, timeout) or a response with status 400 or above is reported in the
// output with `error` set rather than returned as a Go error; any other
// non-2xx response is returned as-is without `error` — the flow author decides
// via transitions whether a 404 or unreachable host is a failure.
type HTTPActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *HTTPActivity) Name() string { return "http" }

// Execute performs the configured HTTP request.
func (a *HTTPActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("http activity: missing required config field 'url'")
	}

	method := "GET"
	if v, ok := config["method"].(string); ok && v != "" {
		method = v
	}

	timeout := 30 * time.Second
	switch v := config["timeout"].(type) {
	case float64:
		timeout = time.Duration(v) * time.Second
	case int:
		timeout = time.Duration(v) * time.Second
	}

	client := &http.Client{Timeout: timeout}

	var bodyReader io.Reader
	if body, ok := input["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("http activity: failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http activity: failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	injectAuth(req, config)
	setStringHeaders(req, input["headers"])
	setStringHeaders(req, config["headers"])

	resp, err := client.Do(req)
	if err != nil {
		return map[string]interface{}{
			"status_code": 0,
			"body":        nil,
			"error":       err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        nil,
			"error":       fmt.Sprintf("failed to read response body: %v", err),
		}, nil
	}

	var responseData interface{}
	if err := json.Unmarshal(respBody, &responseData); err != nil {
		responseData = string(respBody)
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     resp.Header,
		"body":        responseData,
	}
	if resp.StatusCode >= 400 {
		output["error"] = fmt.Sprintf("HTTP request failed with status %d", resp.StatusCode)
	}
	return output, nil
}

// injectAuth sets Authorization from a bearer token or user/password basic
// auth found in config (normally placed there by secret injection). Explicit
// headers applied after this call take priority.
func injectAuth(req *http.Request, config map[string]interface{}) {
	if token, ok := config["token"].(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	user, hasUser := config["user"].(string)
	password, _ := config["password"].(string)
	if hasUser && user != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		req.Header.Set("Authorization", "Basic "+creds)
	}
}

func setStringHeaders(req *http.Request, raw interface{}) {
	headers, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	for key, value := range headers {
		if str, ok := value.(string); ok {
			req.Header.Set(key, str)
		}
	}
}
