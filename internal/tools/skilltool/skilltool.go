// Package skilltool loads on-demand skill content into the conversation.
package skilltool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharphq/sharpbot/internal/skills"
	"github.com/sharphq/sharpbot/internal/tools"
)

// Tool returns a skill's full instructions. Unavailable skills are
// refused with the reason recorded during gating.
type Tool struct {
	Manager *skills.Manager
}

func (t *Tool) Name() string { return "load_skill" }

func (t *Tool) Description() string {
	return "Load the full instructions of an available skill by name."
}

func (t *Tool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"name": tools.StringProp("Skill name, as listed in the system prompt"),
	}, "name")
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	content, err := t.Manager.Content(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("## Skill: %s\n\n%s", name, content), nil
}
