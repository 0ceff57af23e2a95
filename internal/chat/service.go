package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/gate"
	"github.com/song-pt/TongAI/internal/prompt"
	"github.com/song-pt/TongAI/internal/settings"
	"github.com/song-pt/TongAI/internal/store"
	"github.com/song-pt/TongAI/internal/usage"
)

var (
	ErrEmptyQuestion = errors.New("question or image required")
	ErrBadImage      = errors.New("image must be a data:image/ URI")
	ErrEmptyMessage  = errors.New("message required")
	ErrBadRole       = errors.New("history role must be system, user or assistant")
)

// ErrImageKeyRequired is returned for image solves when the device has no usable linked image key.
var ErrImageKeyRequired = errors.New("image key missing, disabled or over quota")

// saved in place of an empty question when only an image was sent
const imageQuestion = "[Image]"

type Service struct {
	repo       *store.Repo
	dispatcher *ai.Dispatcher
	settings   *settings.Resolver
	recorder   *usage.Recorder
}

func NewService(repo *store.Repo, dispatcher *ai.Dispatcher, settings *settings.Resolver, recorder *usage.Recorder) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, settings: settings, recorder: recorder}
}

type SolveInput struct {
	Identity  gate.Identity
	Question  string
	Subject   string // subject code
	Level     string // level code, or a label sent by older clients
	Language  prompt.Language
	Image     string // data URI
	ImageKey  string // optional; must match the key linked to the device
	UseSearch bool
}

type SolveResult struct {
	Answer     string `json:"answer"`
	Subject    string `json:"subject"`
	GradeLabel string `json:"grade_label,omitempty"`
	// Tokens is only reported when show_usage_to_user is on.
	Tokens *int64 `json:"tokens,omitempty"`
}

type ContinueInput struct {
	Identity gate.Identity
	History  []ai.Message
	Message  string
}

type ContinueResult struct {
	Answer string `json:"answer"`
	Tokens *int64 `json:"tokens,omitempty"`
}

func (s *Service) Solve(ctx context.Context, in SolveInput) (*SolveResult, error) {
	blank := strings.TrimSpace(in.Question) == ""
	if blank && in.Image == "" {
		return nil, ErrEmptyQuestion
	}
	hasImage := in.Image != ""
	if hasImage && !strings.HasPrefix(in.Image, "data:image/") {
		return nil, ErrBadImage
	}

	var imageKey string
	if hasImage {
		code, err := s.linkedImageKey(ctx, in.Identity, in.ImageKey)
		if err != nil {
			return nil, err
		}
		imageKey = code
	}

	subject := s.subjectSource(ctx, in.Subject)
	gradeLabel := s.levelLabel(ctx, in.Level)

	text := prompt.Build(prompt.Input{
		Question:   in.Question,
		LevelLabel: gradeLabel,
		Subject:    subject,
		Mode:       s.settings.AIMode(ctx),
		Language:   in.Language,
	})
	res, err := s.dispatcher.Dispatch(ctx, prompt.SolveMessages(text, in.Image), hasImage, in.UseSearch)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}

	tokens := usage.TokensFor(res, text)
	s.recorder.RecordUsage(ctx, in.Identity.KeyCode, in.Identity.DeviceID, tokens)
	if hasImage {
		s.recorder.RecordImageUsage(ctx, imageKey)
	}

	saved := in.Question
	if blank {
		saved = imageQuestion
	}
	item := &store.ChatHistoryItem{
		KeyCode:  in.Identity.KeyCode,
		DeviceID: in.Identity.DeviceID,
		Question: saved,
		Answer:   res.Content,
		Subject:  subject.Code(),
	}
	if gradeLabel != "" {
		item.GradeLabel = &gradeLabel
	}
	// the answer is already paid for; a failed history write must not hide it
	if err := s.repo.AddChatMessage(ctx, item); err != nil {
		log.Printf("history save failed key=%s device=%s err=%v", in.Identity.KeyCode, in.Identity.DeviceID, err)
	}

	out := &SolveResult{Answer: res.Content, Subject: subject.Code(), GradeLabel: gradeLabel}
	if s.settings.ShowUsage(ctx) {
		out.Tokens = &tokens
	}
	return out, nil
}

// Continue sends a bounded follow-up conversation. Follow-ups are billed but not saved to history.
func (s *Service) Continue(ctx context.Context, in ContinueInput) (*ContinueResult, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrEmptyMessage
	}
	for _, m := range in.History {
		switch m.Role {
		case ai.RoleSystem, ai.RoleUser, ai.RoleAssistant:
		default:
			return nil, ErrBadRole
		}
	}

	msgs := prompt.FollowUp(in.History, in.Message, s.settings.FollowUpLimit(ctx))
	res, err := s.dispatcher.Dispatch(ctx, msgs, false, false)
	if err != nil {
		return nil, fmt.Errorf("continue: %w", err)
	}

	tokens := usage.TokensFor(res, joinText(msgs))
	s.recorder.RecordUsage(ctx, in.Identity.KeyCode, in.Identity.DeviceID, tokens)

	out := &ContinueResult{Answer: res.Content}
	if s.settings.ShowUsage(ctx) {
		out.Tokens = &tokens
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, keyCode string) ([]store.ChatHistoryItem, error) {
	return s.repo.FetchChatHistory(ctx, keyCode)
}

// linkedImageKey returns the image key linked to the device session, provided it is still
// active and under quota. A requested code that differs from the linked one is refused.
func (s *Service) linkedImageKey(ctx context.Context, id gate.Identity, requested string) (string, error) {
	sess, err := s.repo.GetDeviceSession(ctx, id.KeyCode, id.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrImageKeyRequired
		}
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess.ImageKeyCode == nil || *sess.ImageKeyCode == "" {
		return "", ErrImageKeyRequired
	}
	code := *sess.ImageKeyCode
	if requested = strings.TrimSpace(requested); requested != "" && requested != code {
		return "", ErrImageKeyRequired
	}

	k, err := s.repo.GetImageKeyByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrImageKeyRequired
		}
		return "", fmt.Errorf("load image key: %w", err)
	}
	if !k.IsActive || k.OverQuota() {
		return "", ErrImageKeyRequired
	}
	return code, nil
}

// subjectSource resolves a code against the store once. Unknown codes, and an unreachable
// store, fall back to the built-in personas.
func (s *Service) subjectSource(ctx context.Context, code string) prompt.SubjectSource {
	code = strings.TrimSpace(code)
	if code == "" {
		code = prompt.SubjectMath
	}
	sub, err := s.repo.GetSubject(ctx, code)
	switch {
	case err == nil:
		return prompt.Configured(*sub)
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("subject lookup failed code=%s, using default persona: %v", code, err)
	}
	return prompt.LegacyDefault(code)
}

func (s *Service) levelLabel(ctx context.Context, level string) string {
	level = strings.TrimSpace(level)
	if level == "" {
		return ""
	}
	l, err := s.repo.GetLevel(ctx, level)
	switch {
	case err == nil:
		return l.Label
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("level lookup failed code=%s: %v", level, err)
	}
	return level
}

func joinText(msgs []ai.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Text())
	}
	return b.String()
}
