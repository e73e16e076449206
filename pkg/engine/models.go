package engine

// Model is a frame model the engine can display.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultModelID is loaded when a session starts.
const DefaultModelID = "rayban_aviator_or_vertFlash"

var models = []Model{
	{ID: DefaultModelID, Name: "Classic Aviator"},
	{ID: "rayban_round_cuivre_pinkBrownDegrade", Name: "Round Frame"},
	{ID: "carrera_113S_blue", Name: "Modern Blue"},
}

// Models returns the model-switch presets.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// LookupModel finds a preset by ID.
func LookupModel(id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
