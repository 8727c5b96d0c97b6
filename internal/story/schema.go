package story

// Schema types accepted by the structured-output API.
const (
	TypeObject  = "OBJECT"
	TypeArray   = "ARRAY"
	TypeString  = "STRING"
	TypeInteger = "INTEGER"
)

// SchemaNode is a backend-neutral JSON schema node. Each backend adapter
// converts it to its SDK schema type.
type SchemaNode struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*SchemaNode `json:"properties,omitempty"`
	Items       *SchemaNode            `json:"items,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

func str() *SchemaNode { return &SchemaNode{Type: TypeString} }

func integer() *SchemaNode { return &SchemaNode{Type: TypeInteger} }

func object(required []string, props map[string]*SchemaNode) *SchemaNode {
	return &SchemaNode{Type: TypeObject, Properties: props, Required: required}
}

func arrayOf(items *SchemaNode) *SchemaNode {
	return &SchemaNode{Type: TypeArray, Items: items}
}

// Schema returns a fresh copy of the production plan response schema.
func Schema() *SchemaNode {
	persona := str()
	persona.Description = "A detailed persona for the hero character, to be used for chat and voice interactions. Should include personality, way of speaking, and core motivations."
	dialog := str()
	dialog.Description = "The actual words the hero character speaks in this scene. Should be direct speech in first person, suitable for an 8-second video clip."

	return object(
		[]string{"characterModel", "storyAnalysis", "episodeScript", "staticKeyframes", "videoGeneration", "postProcessing"},
		map[string]*SchemaNode{
			"characterModel": object([]string{"source", "action"}, map[string]*SchemaNode{
				"source": str(),
				"action": str(),
			}),
			"storyAnalysis": object(
				[]string{"hero", "parentPrompt", "coreLesson", "villain", "characterArc", "characterPersona"},
				map[string]*SchemaNode{
					"hero":             str(),
					"parentPrompt":     str(),
					"coreLesson":       str(),
					"villain":          str(),
					"characterArc":     str(),
					"characterPersona": persona,
				},
			),
			"episodeScript": object([]string{"action", "scenes"}, map[string]*SchemaNode{
				"action": str(),
				"scenes": arrayOf(object([]string{"scene", "title", "dialog"}, map[string]*SchemaNode{
					"scene":  integer(),
					"title":  str(),
					"dialog": dialog,
				})),
			}),
			"staticKeyframes": object([]string{"action", "keyframes"}, map[string]*SchemaNode{
				"action": str(),
				"keyframes": arrayOf(object([]string{"keyframe", "scene", "prompt"}, map[string]*SchemaNode{
					"keyframe": integer(),
					"scene":    integer(),
					"prompt":   str(),
				})),
			}),
			"videoGeneration": object([]string{"action", "clips"}, map[string]*SchemaNode{
				"action": str(),
				"clips": arrayOf(object([]string{"clip", "input", "prompt"}, map[string]*SchemaNode{
					"clip":   integer(),
					"input":  str(),
					"prompt": str(),
				})),
			}),
			"postProcessing": object([]string{"action"}, map[string]*SchemaNode{
				"action": str(),
			}),
		},
	)
}
