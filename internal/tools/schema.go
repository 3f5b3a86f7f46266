package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/conductorhq/conductor/internal/domain"
)

// Args structs for the closed tool set. invopop/jsonschema reflects
// these into JSON Schema documents once at package init; santhosh-tekuri/
// jsonschema/v5 compiles and validates against them at dispatch time.

type CommandArgs struct {
	Cmd  string   `json:"cmd" jsonschema:"required,minLength=1"`
	Args []string `json:"args,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
}

type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"required,minLength=1"`
}

type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,minLength=1"`
	Content string `json:"content"`
}

type ListFilesArgs struct {
	Path string `json:"path,omitempty"`
}

type DeleteFileArgs struct {
	Path string `json:"path" jsonschema:"required,minLength=1"`
}

type SpawnNodeArgs struct {
	Label        string `json:"label" jsonschema:"required,minLength=1"`
	RoleTemplate string `json:"roleTemplate" jsonschema:"required,minLength=1"`
	Provider     string `json:"provider,omitempty"`
	Alias        string `json:"alias,omitempty"`
}

type CreateEdgeArgs struct {
	From          string `json:"from" jsonschema:"required,minLength=1"`
	To            string `json:"to" jsonschema:"required,minLength=1"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
	Label         string `json:"label,omitempty"`
}

type SendHandoffArgs struct {
	To      string `json:"to" jsonschema:"required,minLength=1"`
	Message string `json:"message" jsonschema:"required,minLength=1"`
}

var argsPrototype = map[string]any{
	"command":      CommandArgs{},
	"read_file":    ReadFileArgs{},
	"write_file":   WriteFileArgs{},
	"list_files":   ListFilesArgs{},
	"delete_file":  DeleteFileArgs{},
	"spawn_node":   SpawnNodeArgs{},
	"create_edge":  CreateEdgeArgs{},
	"send_handoff": SendHandoffArgs{},
}

var compiledSchemas map[string]*jsonschema.Schema

func init() {
	reflector := &invopop.Reflector{DoNotReference: true}
	compiler := jsonschema.NewCompiler()
	compiledSchemas = make(map[string]*jsonschema.Schema, len(argsPrototype))

	for tool, sample := range argsPrototype {
		schema := reflector.Reflect(sample)
		data, err := json.Marshal(schema)
		if err != nil {
			panic(fmt.Sprintf("tools: reflecting schema for %q: %v", tool, err))
		}
		resourceName := tool + ".json"
		if err := compiler.AddResource(resourceName, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("tools: adding schema resource for %q: %v", tool, err))
		}
		compiled, err := compiler.Compile(resourceName)
		if err != nil {
			panic(fmt.Sprintf("tools: compiling schema for %q: %v", tool, err))
		}
		compiledSchemas[tool] = compiled
	}
}

// ValidateArgs checks args against tool's compiled JSON Schema. A
// violation is reported as a domain.KindValidation error, never
// KindToolExecution
func ValidateArgs(tool string, args map[string]any) error {
	schema, ok := compiledSchemas[tool]
	if !ok {
		return domain.NewValidationError("unknown tool %q", tool)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return domain.NewValidationError("tool %q: args not serializable: %v", tool, err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return domain.NewValidationError("tool %q: args not valid JSON: %v", tool, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return domain.NewValidationError("tool %q: %v", tool, err)
	}
	return nil
}
