package supervisor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// rawServerFile is the external_mcp.yaml shape (§6 external_mcp.config_file):
// a flat list of server definitions, one stdio/http/sse/ws transport each.
type rawServerFile struct {
	Servers []rawServerDef `yaml:"servers"`
}

type rawServerDef struct {
	ID         string            `yaml:"id"`
	ToolPrefix string            `yaml:"tool_prefix"`
	Transport  string            `yaml:"transport"` // stdio | http | sse | ws

	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`

	BaseURL  string `yaml:"base_url,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	URL      string `yaml:"url,omitempty"`
	Auth     string `yaml:"auth,omitempty"`

	Restart *rawRestart `yaml:"restart,omitempty"`
	QueueDepth int       `yaml:"queue_depth,omitempty"`
}

type rawRestart struct {
	Max          int `yaml:"max"`
	BaseBackoffS int `yaml:"base_backoff_s"`
	CeilingS     int `yaml:"ceiling_s"`
	DegradeAfter int `yaml:"degrade_after"`
}

// LoadServerDefs reads the external MCP servers config file. A missing
// file yields an empty list rather than an error, matching the gateway's
// zero-config-friendly posture for optional feature files.
func LoadServerDefs(path string) ([]ServerDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read external mcp config %q: %w", path, err)
	}

	var raw rawServerFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse external mcp config %q: %w", path, err)
	}

	out := make([]ServerDef, 0, len(raw.Servers))
	for _, r := range raw.Servers {
		def, err := toServerDef(r)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", r.ID, err)
		}
		out = append(out, def)
	}
	return out, nil
}

func toServerDef(r rawServerDef) (ServerDef, error) {
	if r.ID == "" {
		return ServerDef{}, fmt.Errorf("missing id")
	}
	prefix := r.ToolPrefix
	if prefix == "" {
		prefix = r.ID + "_"
	}

	var spec models.TransportSpec
	switch r.Transport {
	case "stdio", "":
		if r.Command == "" {
			return ServerDef{}, fmt.Errorf("stdio transport requires command")
		}
		spec = models.TransportSpec{Kind: models.SpecStdio, Command: r.Command, Args: r.Args, Env: r.Env, Cwd: r.Cwd}
	case "http":
		if r.BaseURL == "" {
			return ServerDef{}, fmt.Errorf("http transport requires base_url")
		}
		spec = models.TransportSpec{Kind: models.SpecHTTP, BaseURL: r.BaseURL, AuthHdr: r.Auth}
	case "sse":
		if r.Endpoint == "" {
			return ServerDef{}, fmt.Errorf("sse transport requires endpoint")
		}
		spec = models.TransportSpec{Kind: models.SpecSSE, Endpoint: r.Endpoint, AuthHdr: r.Auth}
	case "ws":
		if r.URL == "" {
			return ServerDef{}, fmt.Errorf("ws transport requires url")
		}
		spec = models.TransportSpec{Kind: models.SpecWS, URL: r.URL, AuthHdr: r.Auth}
	default:
		return ServerDef{}, fmt.Errorf("unknown transport %q", r.Transport)
	}

	policy := models.DefaultRestartPolicy()
	if r.Restart != nil {
		if r.Restart.BaseBackoffS > 0 {
			policy.BaseBackoff = time.Duration(r.Restart.BaseBackoffS) * time.Second
		}
		if r.Restart.CeilingS > 0 {
			policy.Ceiling = time.Duration(r.Restart.CeilingS) * time.Second
		}
		if r.Restart.DegradeAfter > 0 {
			policy.DegradeAfter = r.Restart.DegradeAfter
		}
		policy.MaxRestarts = r.Restart.Max
	}

	return ServerDef{
		ID:            r.ID,
		Transport:     spec,
		ToolPrefix:    prefix,
		RestartPolicy: policy,
		QueueDepth:    r.QueueDepth,
	}, nil
}
