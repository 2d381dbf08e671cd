package layout

import (
	"encoding/json"
	"fmt"
	"strings"

	"ExplainerVideo-server/llm"
)

const defaultSystemPrompt = `You design slide layouts for narrated explainer videos.
Reply with a single JSON object: {"arrangement": ..., "elements": [...], "decorations": [...], "background": {...}}.
Each element is {"type": ..., "content": {...}, "emphasis": "high"|"medium"|"low"}.
Only use facts present in the scene text.`

// schemaDescriptor is the shape advertised to the provider. The reply is
// still validated by Validate.
type schemaDescriptor struct {
	Arrangement string          `json:"arrangement"`
	Elements    []schemaElement `json:"elements"`
	Decorations []string        `json:"decorations"`
	Background  *Background     `json:"background,omitempty"`
}

type schemaElement struct {
	Type     string                 `json:"type"`
	Content  map[string]interface{} `json:"content"`
	Emphasis string                 `json:"emphasis"`
}

var descriptorSchema = llm.GenerateSchema[schemaDescriptor]()

func elementTypeList() string {
	parts := make([]string, len(ElementTypes))
	for i, t := range ElementTypes {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func buildScenePrompt(in SceneInput, preferred Arrangement, recent, underused string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene %d of %d: %s\n", in.Index+1, in.Total, in.Title)
	fmt.Fprintf(&b, "Narration: %s\n", in.Narration)
	if in.VisualDescription != "" {
		fmt.Fprintf(&b, "Visual hint: %s\n", in.VisualDescription)
	}
	fmt.Fprintf(&b, "\nArrangements: %s\n", joinArrangements(selectable()))
	fmt.Fprintf(&b, "Element types: %s\n", elementTypeList())
	fmt.Fprintf(&b, "Previously used arrangements: %s\n", recent)
	fmt.Fprintf(&b, "Prefer one of these underused arrangements: %s\n", underused)
	if preferred != "" {
		fmt.Fprintf(&b, "The arrangement MUST be %s.\n", preferred)
	}
	writeCurrent(&b, in.Current)
	return b.String()
}

func buildRegeneratePrompt(in RegenerateInput, preferred Arrangement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Redesign scene %d of %d: %s\n", in.Index+1, in.Total, in.Title)
	fmt.Fprintf(&b, "Narration: %s\n", in.Narration)
	if in.VisualDescription != "" {
		fmt.Fprintf(&b, "Visual hint: %s\n", in.VisualDescription)
	}
	fmt.Fprintf(&b, "\nArrangements: %s\n", joinArrangements(Arrangements))
	fmt.Fprintf(&b, "Element types: %s\n", elementTypeList())
	siblings := "none"
	if len(in.SiblingArrangements) > 0 {
		siblings = joinArrangements(in.SiblingArrangements)
	}
	fmt.Fprintf(&b, "Arrangements used by other scenes: %s\n", siblings)
	if preferred != "" {
		fmt.Fprintf(&b, "The arrangement MUST be %s.\n", preferred)
	}
	if in.Instruction != "" {
		fmt.Fprintf(&b, "Requested change: %s\n", in.Instruction)
	}
	writeCurrent(&b, in.Current)
	return b.String()
}

func writeCurrent(b *strings.Builder, current *Descriptor) {
	if current.Empty() {
		return
	}
	data, err := json.Marshal(current)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "Current layout (keep its content unless asked otherwise): %s\n", data)
}
