package prompt

import (
	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/store"
)

type Mode string

const (
	ModeSolver Mode = "solver"
	ModeNormal Mode = "normal"
)

// ParseMode treats anything other than "normal" as solver.
func ParseMode(s string) Mode {
	if Mode(s) == ModeNormal {
		return ModeNormal
	}
	return ModeSolver
}

// SubjectSource is either a subject configured in the store or a bare legacy code
// that only has the built-in personas to fall back on.
type SubjectSource struct {
	code       string
	configured *store.Subject
}

func Configured(s store.Subject) SubjectSource {
	return SubjectSource{code: s.Code, configured: &s}
}

func LegacyDefault(code string) SubjectSource {
	return SubjectSource{code: code}
}

func (s SubjectSource) Code() string { return s.code }

func (s SubjectSource) IsConfigured() bool { return s.configured != nil }

// Label is the configured label, or the code for legacy subjects.
func (s SubjectSource) Label() string {
	if s.configured != nil && s.configured.Label != "" {
		return s.configured.Label
	}
	return s.code
}

// Prefix resolves the solver persona: a configured non-empty prompt_prefix wins,
// otherwise the built-in default for the code.
func (s SubjectSource) Prefix(lang Language) string {
	if s.configured != nil && s.configured.PromptPrefix != "" {
		return s.configured.PromptPrefix
	}
	return DefaultPrefix(lang, s.code)
}

type Input struct {
	Question   string
	LevelLabel string
	Subject    SubjectSource
	Mode       Mode
	// CustomPrefix overrides the subject persona when non-empty.
	CustomPrefix string
	Language     Language
}

// Build returns the user prompt text. Normal mode passes the question through untouched.
func Build(in Input) string {
	if in.Mode == ModeNormal {
		return in.Question
	}
	prefix := in.CustomPrefix
	if prefix == "" {
		prefix = in.Subject.Prefix(in.Language)
	}
	return prefix + in.Question + GradeSuffix(in.Language, in.LevelLabel)
}

// SolveMessages is [system, user]. With an image the user message is multimodal,
// image part first and text part second.
func SolveMessages(text, imageDataURI string) []ai.Message {
	user := ai.Message{Role: ai.RoleUser, Content: text}
	if imageDataURI != "" {
		user = ai.Message{
			Role:  ai.RoleUser,
			Parts: []ai.ContentPart{ai.ImagePart(imageDataURI), ai.TextPart(text)},
		}
	}
	return []ai.Message{
		{Role: ai.RoleSystem, Content: SystemPrompt},
		user,
	}
}
