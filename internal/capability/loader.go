// Package capability implements the Capability Loader (§4.A): it walks a
// directory tree of human-authored YAML capability files and produces a
// validated registry snapshot plus warnings, ready to hand to the rest of
// the gateway.
package capability

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/agentoven/mcpgateway/pkg/models"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// InvalidDefinition reports a capability file that failed validation.
type InvalidDefinition struct {
	File   string
	Reason string
}

func (e *InvalidDefinition) Error() string {
	return fmt.Sprintf("invalid definition in %s: %s", e.File, e.Reason)
}

// DuplicateName reports two capability files declaring the same name.
type DuplicateName struct {
	Name string
	A, B string
}

func (e *DuplicateName) Error() string {
	return fmt.Sprintf("duplicate name %q declared in both %s and %s", e.Name, e.A, e.B)
}

// entryFile is the on-disk shape of one capability file: a top-level list
// of entries, each tagged by kind.
type entryFile struct {
	Entries []rawEntry `yaml:"entries"`
}

type rawEntry struct {
	Kind string `yaml:"kind"` // tool | resource | prompt

	// tool
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	InputSchema map[string]interface{} `yaml:"input_schema"`
	Agent       string                 `yaml:"agent"`
	AgentParams map[string]interface{} `yaml:"agent_params"`
	Enabled     *bool                  `yaml:"enabled"`
	Hidden      bool                   `yaml:"hidden"`
	Category    string                 `yaml:"category"`
	Annotations models.Annotations     `yaml:"annotations"`

	// resource
	URI         string `yaml:"uri"`
	MimeType    string `yaml:"mime_type"`
	ProviderRef string `yaml:"provider_ref"`

	// prompt
	ArgumentSchema map[string]interface{} `yaml:"argument_schema"`
	Template       string                 `yaml:"template"`
}

// Loader reads and validates capability files under a set of root
// directories.
type Loader struct {
	Roots  []string
	Strict bool // registry.validation.strict (§6)
}

// New constructs a Loader over the given root directories.
func New(roots []string, strict bool) *Loader {
	return &Loader{Roots: roots, Strict: strict}
}

// Load walks every root, parses each *.yaml/*.yml file, and returns a fully
// populated snapshot (version left at 0; the Registry assigns the real
// version on swap) plus any non-fatal warnings. A validation failure for
// one entry is fatal for Load as a whole (§4.A: "Fails with
// InvalidDefinition{file,reason} or DuplicateName{name,a,b}"); callers
// that want partial results with warnings should catch the error and keep
// serving the prior snapshot, per the Registry's hot-reload contract.
func (l *Loader) Load() (*models.Snapshot, []string, error) {
	snap := models.EmptySnapshot()
	var warnings []string
	sourceOfTool := map[string]string{}
	sourceOfResource := map[string]string{}
	sourceOfPrompt := map[string]string{}

	files, err := l.listFiles()
	if err != nil {
		return nil, nil, fmt.Errorf("list capability files: %w", err)
	}

	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, &InvalidDefinition{File: file, Reason: err.Error()}
		}
		var ef entryFile
		if err := yaml.Unmarshal(raw, &ef); err != nil {
			return nil, nil, &InvalidDefinition{File: file, Reason: "yaml parse: " + err.Error()}
		}

		for _, e := range ef.Entries {
			switch e.Kind {
			case "tool":
				tool, err := toTool(e, file)
				if err != nil {
					return nil, nil, &InvalidDefinition{File: file, Reason: err.Error()}
				}
				if prev, ok := sourceOfTool[tool.Name]; ok {
					return nil, nil, &DuplicateName{Name: tool.Name, A: prev, B: file}
				}
				sourceOfTool[tool.Name] = file
				snap.Tools[tool.Name] = tool

			case "resource":
				res, err := toResource(e, file)
				if err != nil {
					return nil, nil, &InvalidDefinition{File: file, Reason: err.Error()}
				}
				if prev, ok := sourceOfResource[res.URI]; ok {
					return nil, nil, &DuplicateName{Name: res.URI, A: prev, B: file}
				}
				sourceOfResource[res.URI] = file
				snap.Resources[res.URI] = res

			case "prompt":
				p, err := toPrompt(e, file)
				if err != nil {
					return nil, nil, &InvalidDefinition{File: file, Reason: err.Error()}
				}
				if prev, ok := sourceOfPrompt[p.Name]; ok {
					return nil, nil, &DuplicateName{Name: p.Name, A: prev, B: file}
				}
				sourceOfPrompt[p.Name] = file
				snap.Prompts[p.Name] = p

			default:
				msg := fmt.Sprintf("%s: unknown entry kind %q, skipping", file, e.Kind)
				if l.Strict {
					return nil, nil, &InvalidDefinition{File: file, Reason: "unknown entry kind " + e.Kind}
				}
				warnings = append(warnings, msg)
			}
		}
	}

	return snap, warnings, nil
}

// Rescan is an alias for Load kept to match the operation named in §4.A;
// the loader is stateless between calls, so a rescan is just another load.
func (l *Loader) Rescan() (*models.Snapshot, []string, error) {
	return l.Load()
}

func (l *Loader) listFiles() ([]string, error) {
	var files []string
	for _, root := range l.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext == ".yaml" || ext == ".yml" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func toTool(e rawEntry, file string) (models.Tool, error) {
	if !nameRegex.MatchString(e.Name) {
		return models.Tool{}, fmt.Errorf("tool name %q does not match %s", e.Name, nameRegex.String())
	}
	schemaBytes, err := json.Marshal(e.InputSchema)
	if err != nil {
		return models.Tool{}, fmt.Errorf("tool %q: marshal input_schema: %w", e.Name, err)
	}
	if !json.Valid(schemaBytes) {
		return models.Tool{}, fmt.Errorf("tool %q: input_schema is not valid JSON", e.Name)
	}

	agent := models.AgentKind(e.Agent)
	if agent == "" {
		return models.Tool{}, fmt.Errorf("tool %q: missing agent variant", e.Name)
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	tool := models.Tool{
		Name:        e.Name,
		Description: e.Description,
		InputSchema: schemaBytes,
		Agent:       agent,
		AgentParams: e.AgentParams,
		Enabled:     enabled,
		Hidden:      e.Hidden,
		Category:    e.Category,
		Annotations: e.Annotations,
		Provenance:  models.Provenance{SourceFile: file, SourceSystem: "capability_loader"},
	}
	if !tool.Routable() {
		return models.Tool{}, fmt.Errorf("tool %q: agent %q missing required agent_params for its kind", e.Name, agent)
	}
	return tool, nil
}

func toResource(e rawEntry, file string) (models.Resource, error) {
	if e.URI == "" {
		return models.Resource{}, fmt.Errorf("resource entry missing uri")
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return models.Resource{
		URI:         e.URI,
		MimeType:    e.MimeType,
		Name:        e.Name,
		ProviderRef: e.ProviderRef,
		Enabled:     enabled,
		Hidden:      e.Hidden,
		Provenance:  models.Provenance{SourceFile: file, SourceSystem: "capability_loader"},
	}, nil
}

func toPrompt(e rawEntry, file string) (models.Prompt, error) {
	if !nameRegex.MatchString(e.Name) {
		return models.Prompt{}, fmt.Errorf("prompt name %q does not match %s", e.Name, nameRegex.String())
	}
	var schemaBytes []byte
	if e.ArgumentSchema != nil {
		b, err := json.Marshal(e.ArgumentSchema)
		if err != nil {
			return models.Prompt{}, fmt.Errorf("prompt %q: marshal argument_schema: %w", e.Name, err)
		}
		schemaBytes = b
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return models.Prompt{
		Name:           e.Name,
		ArgumentSchema: schemaBytes,
		Template:       e.Template,
		ProviderRef:    e.ProviderRef,
		Enabled:        enabled,
		Hidden:         e.Hidden,
		Provenance:     models.Provenance{SourceFile: file, SourceSystem: "capability_loader"},
	}, nil
}

// LogWarnings writes each warning at warn level, matching the engine-wide
// rule that only Internal-class errors are logged at error level (§7).
func LogWarnings(warnings []string) {
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
}
