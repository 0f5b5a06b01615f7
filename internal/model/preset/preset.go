package preset

// Preset is a named system instruction the user can start from.
type Preset struct {
	ID     string `json:"id" toml:"id"`
	Name   string `json:"name" toml:"name"`
	Prompt string `json:"prompt" toml:"prompt"`
}

// GeneralID is used when a session references a preset that no longer exists.
const GeneralID = "general"

const generalPrompt = "You are a friendly, efficient assistant. Be brief, accurate, and helpful."

// Seed provides the built-in assistant modes.
func Seed() []Preset {
	return []Preset{
		{
			ID:     "teaching",
			Name:   "🎓 Teaching Assistant",
			Prompt: "You are a helpful, concise teaching assistant. Use short, clear explanations, ideally within 3 lines.",
		},
		{
			ID:     "coding",
			Name:   "👨‍💻 Coding Helper",
			Prompt: "You are a precise coding assistant. Respond with minimal prose, correct code, and brief tips.",
		},
		{
			ID:     "translator",
			Name:   "🌍 Translator",
			Prompt: "You are a professional translator. Preserve meaning and tone. If user doesn't specify, translate to Roman Urdu and English side-by-side.",
		},
		{
			ID:     GeneralID,
			Name:   "🧠 General Assistant",
			Prompt: generalPrompt,
		},
	}
}
