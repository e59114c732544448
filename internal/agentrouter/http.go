package agentrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

var templateVar = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// HTTPDriver executes "http" and "graphql" agent tools: it templates a URL
// and body from the declared agent_params and the call arguments, using a
// safe substitution layer (URL-encoded path segments, JSON-encoded body
// scalars — never raw string concatenation into the request), and applies
// the tool's retry policy on network errors or 5xx (§4.C).
type HTTPDriver struct {
	kind       models.AgentKind // AgentHTTP or AgentGraphQL
	client     *http.Client
	maxRetries int
}

// NewHTTPDriver constructs a driver for the given kind ("http" or
// "graphql"); both share the same templating and retry mechanics, only
// the request-body shape differs (graphql always POSTs a query/variables
// envelope).
func NewHTTPDriver(kind models.AgentKind) *HTTPDriver {
	return &HTTPDriver{
		kind:       kind,
		client:     &http.Client{},
		maxRetries: 2, // §4.C default
	}
}

func (d *HTTPDriver) Kind() models.AgentKind { return d.kind }
func (d *HTTPDriver) MaxRetries() int        { return d.maxRetries }

func (d *HTTPDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	rawURL, _ := tool.AgentParams["url"].(string)
	if rawURL == "" {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q: %s agent missing url", tool.Name, d.kind))
	}
	resolvedURL, err := substituteURL(rawURL, arguments)
	if err != nil {
		return nil, mcperr.InvalidParams(err.Error())
	}

	method, _ := tool.AgentParams["method"].(string)
	if method == "" {
		method = "POST"
	}

	var body io.Reader
	switch d.kind {
	case models.AgentGraphQL:
		query, _ := tool.AgentParams["operation"].(string)
		payload := map[string]interface{}{"query": query, "variables": arguments}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, mcperr.InvalidParams(fmt.Sprintf("marshal graphql payload: %v", err))
		}
		body = bytes.NewReader(b)
		method = "POST"
	default:
		if method != "GET" && method != "DELETE" {
			b, err := json.Marshal(arguments)
			if err != nil {
				return nil, mcperr.InvalidParams(fmt.Sprintf("marshal request body: %v", err))
			}
			body = bytes.NewReader(b)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, resolvedURL, body)
	if err != nil {
		return nil, mcperr.InternalError(fmt.Sprintf("build request: %v", err)).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := tool.AgentParams["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, mcperr.ServerBusy(tool.Name).Wrap(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, mcperr.InternalError(fmt.Sprintf("read response: %v", err)).Wrap(err)
	}

	if resp.StatusCode >= 500 {
		return nil, mcperr.ServerBusy(tool.Name).WithData(map[string]interface{}{"status": resp.StatusCode})
	}
	if resp.StatusCode >= 400 {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("http %d: %s", resp.StatusCode, tailBytes(respBody, stderrTailCap)))
	}

	return []models.ContentBlock{models.TextContent(string(respBody))}, nil
}

// substituteURL fills {name} placeholders in the URL template, URL-encoding
// each substituted value so an argument can never inject an extra path
// segment or query parameter.
func substituteURL(template string, arguments map[string]interface{}) (string, error) {
	var substErr error
	resolved := templateVar.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.Trim(match, "{}")
		v, ok := arguments[name]
		if !ok {
			substErr = fmt.Errorf("missing argument %q for url template", name)
			return match
		}
		return url.PathEscape(fmt.Sprintf("%v", v))
	})
	if substErr != nil {
		return "", substErr
	}
	if _, err := url.ParseRequestURI(resolved); err != nil {
		return "", fmt.Errorf("resolved url %q is invalid: %w", resolved, err)
	}
	return resolved, nil
}
