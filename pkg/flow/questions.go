package flow

// QuestionType is how a question is answered.
type QuestionType string

const (
	Choice QuestionType = "choice"
	Text   QuestionType = "text"
)

// Question is one step of the preference chat.
type Question struct {
	Prompt      string       `json:"question"`
	Options     []string     `json:"options,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Type        QuestionType `json:"type"`
}

// Has reports whether option is one of the question's choices.
func (q Question) Has(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Question indexes with special handling.
const (
	qBudget = iota
	qStyle
	qInspiration
	qEnvironment
	qScreenTime
	qDriving
	qSpecificNeeds
)

// AddPhoto is the inspiration answer that expects an attached photo.
const AddPhoto = "Add Photo"

var questions = []Question{
	{
		Prompt:  "What's your budget range?",
		Options: []string{"Under RM200", "RM200-350", "Premium (RM350+)"},
		Type:    Choice,
	},
	{
		Prompt:  "What's your style preference?",
		Options: []string{"Classic", "Bold", "Vintage", "Modern", "Surprise me"},
		Type:    Choice,
	},
	{
		Prompt:  "Got an inspiration photo?",
		Options: []string{AddPhoto, "Skip"},
		Type:    Choice,
	},
	{
		Prompt:  "Where do you spend most of your time?",
		Options: []string{"Office/Indoor", "Outdoors", "Mixed environments", "Home/Remote work"},
		Type:    Choice,
	},
	{
		Prompt:  "How many hours daily do you spend on digital screens?",
		Options: []string{"Less than 2 hours", "2-6 hours", "6-10 hours", "More than 10 hours"},
		Type:    Choice,
	},
	{
		Prompt:  "Do you drive regularly?",
		Options: []string{"Daily commuter", "Weekend driver", "Occasional", "Rarely/Never"},
		Type:    Choice,
	},
	{
		Prompt:      "Any specific needs or preferences? (e.g., reading glasses, sports, fashion)",
		Placeholder: "Tell us about your lifestyle, work, hobbies, or any specific requirements...",
		Type:        Text,
	},
}

// Questions returns a copy of the questionnaire.
func Questions() []Question {
	out := make([]Question, len(questions))
	copy(out, questions)
	return out
}
