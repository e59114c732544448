package discovery

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// validateArguments checks arguments against tool's input schema. Mirrors
// internal/agentrouter's dispatch-time validation (same library, same
// error shape) since the discovery engine must reject a synthesised
// argument set exactly as strictly as the router would reject it at call
// time — a selection that "passes" discovery but fails dispatch is a bug.
func validateArguments(tool models.Tool, arguments map[string]interface{}) error {
	if len(tool.InputSchema) == 0 || string(tool.InputSchema) == "null" {
		return nil
	}
	schemaLoader := gojsonschema.NewBytesLoader(tool.InputSchema)
	docLoader := gojsonschema.NewGoLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema error: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) == 0 {
			return fmt.Errorf("arguments do not satisfy schema")
		}
		return fmt.Errorf("%s: %s", errs[0].Field(), errs[0].Description())
	}
	return nil
}
