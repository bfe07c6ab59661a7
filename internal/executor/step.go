package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaharia-lab/taskrun/internal/storage"
)

// StepResult is everything observable about one step's execution, kept
// regardless of outcome so a chain can log the attempted request even on
// failure.
type StepResult struct {
	Name            string
	URL             string
	Method          string
	Headers         map[string]string
	Body            map[string]interface{}
	StatusCode      int
	HasStatusCode   bool
	Response        interface{}
	Success         bool
	Error           string
	ExtractedParams map[string]interface{}
}

// Executor dispatches a single step over HTTP.
type Executor struct {
	httpClient *http.Client
}

// New returns an Executor whose requests are bounded by timeout.
func New(timeout time.Duration) *Executor {
	return &Executor{httpClient: &http.Client{Timeout: timeout}}
}

// Execute substitutes placeholders, performs the HTTP call, parses the
// response, and — on success — extracts parameters. It never returns a Go
// error: every failure mode (timeout, connection refusal, non-2xx status,
// invalid JSON) is reported through StepResult.Error so the chain runner can
// log and retry uniformly.
func (e *Executor) Execute(ctx context.Context, step storage.Step, stepCtx Context) StepResult {
	method := strings.ToUpper(string(step.Method))
	substURL := substituteString(step.URL, stepCtx)
	headers := substituteHeaders(step.Headers, stepCtx)
	body := substituteBody(step.Body, stepCtx)

	result := StepResult{
		Name:            step.Name,
		Method:          method,
		Headers:         headers,
		Body:            body,
		ExtractedParams: map[string]interface{}{},
	}

	req, err := buildRequest(ctx, method, substURL, headers, body)
	if err != nil {
		result.URL = substURL
		result.Error = fmt.Sprintf("unknown: %v", err)
		return result
	}
	result.URL = req.URL.String()

	resp, err := e.httpClient.Do(req)
	if err != nil {
		result.Error = classifyRequestError(err)
		return result
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = classifyRequestError(err)
		return result
	}

	result.StatusCode = resp.StatusCode
	result.HasStatusCode = true

	contentType := resp.Header.Get("Content-Type")
	isJSON := strings.Contains(contentType, "application/json")

	var parsed interface{}
	var parseErr error
	if isJSON {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 {
			parseErr = json.Unmarshal(trimmed, &parsed)
		}
	} else {
		parsed = string(raw)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Sprintf("HTTP error: %d %s", resp.StatusCode, string(raw))
		if isJSON && parseErr == nil {
			result.Response = parsed
		} else {
			result.Response = string(raw)
		}
		return result
	}

	if isJSON && parseErr != nil {
		result.Error = "response is not valid JSON"
		result.Response = string(raw)
		return result
	}

	result.Response = parsed
	result.Success = true
	result.ExtractedParams = extractParams(step.ExtractParams, parsed)
	return result
}

func buildRequest(ctx context.Context, method, rawURL string, headers map[string]string, body map[string]interface{}) (*http.Request, error) {
	var req *http.Request
	var err error

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		var payload []byte
		if body != nil {
			payload, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
		}
		req, err = http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		finalURL, qErr := appendQueryParams(rawURL, body)
		if qErr != nil {
			return nil, qErr
		}
		req, err = http.NewRequestWithContext(ctx, method, finalURL, nil)
		if err != nil {
			return nil, err
		}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// appendQueryParams flattens a step's body map onto the URL's query string,
// used for GET/DELETE steps where a request body is not idiomatic.
func appendQueryParams(rawURL string, body map[string]interface{}) (string, error) {
	if len(body) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	for k, v := range body {
		q.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyRequestError maps a transport-layer error to the spec's fixed
// vocabulary of error strings.
func classifyRequestError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout"
	}
	return "connection error"
}
