package envelope

// VerbCapability describes one verb for the capabilities endpoint.
type VerbCapability struct {
	Verb     string   `json:"verb"`
	Window   string   `json:"window"`
	Required []string `json:"required,omitempty"`
	Doc      string   `json:"doc,omitempty"`
}

// Capabilities is the machine-readable contract served to external command
// sources: which schema to speak and which verbs exist. Sources are expected
// to fetch this once and degrade gracefully rather than guess.
type Capabilities struct {
	Schema string           `json:"schema"`
	Verbs  []VerbCapability `json:"verbs"`
}

// Describe returns the current capability descriptor. Verbs are sorted by
// name so the output is stable across runs.
func Describe() Capabilities {
	caps := Capabilities{Schema: SchemaVersion}
	for _, name := range Verbs() {
		spec, _ := Lookup(name)
		caps.Verbs = append(caps.Verbs, VerbCapability{
			Verb:     spec.Name,
			Window:   spec.Window.String(),
			Required: append([]string(nil), spec.Required...),
			Doc:      spec.Doc,
		})
	}
	return caps
}
