package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/song-pt/TongAI/internal/auth"
	"github.com/song-pt/TongAI/internal/settings"
	"github.com/song-pt/TongAI/internal/store"
)

var (
	ErrBadPassword      = errors.New("invalid admin password")
	ErrWeakPassword     = errors.New("password must be at least 4 characters")
	ErrWouldReban       = errors.New("key is over its token limit and would be disabled again on next use")
	ErrUnknownConfigKey = errors.New("unknown config key")
	ErrCodeTaken        = errors.New("code already exists")
	ErrCodeAllocation   = errors.New("failed to allocate code")
	ErrNegativeLimit    = errors.New("limit must not be negative")
)

const (
	TokenTTL = 12 * time.Hour

	minPasswordLen       = 4
	generatedCodeLen     = 11
	codeAllocateAttempts = 5
)

// masked config keys are never returned in full by ListConfig
var secretConfigKeys = []string{store.ConfigAdminPassword, store.ConfigAIAPIKey}

type Service struct {
	repo        *store.Repo
	settings    *settings.Resolver
	envPassword string
	jwtSecret   string
}

func NewService(repo *store.Repo, settings *settings.Resolver, envPassword, jwtSecret string) *Service {
	return &Service{repo: repo, settings: settings, envPassword: envPassword, jwtSecret: jwtSecret}
}

// VerifyPassword accepts the deployment password first, then the one stored in app_config
// (bcrypt hash, or plain text written by older deployments).
func (s *Service) VerifyPassword(ctx context.Context, input string) (bool, error) {
	if input == "" {
		return false, nil
	}
	if s.envPassword != "" && subtle.ConstantTimeCompare([]byte(input), []byte(s.envPassword)) == 1 {
		return true, nil
	}
	stored, err := s.settings.Get(ctx, store.ConfigAdminPassword)
	if err != nil {
		return false, fmt.Errorf("read admin password: %w", err)
	}
	if stored == "" {
		return false, nil
	}
	if auth.IsHash(stored) {
		return auth.CheckPassword(stored, input), nil
	}
	return subtle.ConstantTimeCompare([]byte(input), []byte(stored)) == 1, nil
}

// Login verifies the password and issues an admin token.
func (s *Service) Login(ctx context.Context, password string) (string, error) {
	ok, err := s.VerifyPassword(ctx, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrBadPassword
	}
	return auth.SignJWT(auth.RoleAdmin, auth.RoleAdmin, s.jwtSecret, TokenTTL)
}

func (s *Service) ParseToken(token string) (*auth.Claims, error) {
	claims, err := auth.ParseJWT(token, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	if claims.Role != auth.RoleAdmin {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) UpdatePassword(ctx context.Context, newPassword string) error {
	if len([]rune(newPassword)) < minPasswordLen {
		return ErrWeakPassword
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.settings.Set(ctx, store.ConfigAdminPassword, hash)
}

// SetKeyActive toggles a key. Reactivating a key that is at its limit needs force.
func (s *Service) SetKeyActive(ctx context.Context, id uint64, active, force bool) error {
	if active && !force {
		k, err := s.repo.GetKeyByID(ctx, id)
		if err != nil {
			return err
		}
		if k.OverQuota() {
			return ErrWouldReban
		}
	}
	return s.repo.SetKeyActive(ctx, id, active)
}

func (s *Service) SetImageKeyActive(ctx context.Context, id uint64, active, force bool) error {
	if active && !force {
		k, err := s.repo.GetImageKeyByID(ctx, id)
		if err != nil {
			return err
		}
		if k.OverQuota() {
			return ErrWouldReban
		}
	}
	return s.repo.SetImageKeyActive(ctx, id, active)
}

// CreateKey stores a new access key; an empty code gets a generated one.
func (s *Service) CreateKey(ctx context.Context, code, note string, limit *int64) (*store.AccessKey, error) {
	if limit != nil && *limit < 0 {
		return nil, ErrNegativeLimit
	}
	code, err := s.allocateCode(code, func(c string) (bool, error) {
		_, err := s.repo.GetKeyByCode(ctx, c)
		return exists(err)
	})
	if err != nil {
		return nil, err
	}
	k := &store.AccessKey{Code: code, Note: note, IsActive: true, TokenLimit: limit}
	if err := s.repo.CreateKey(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

func (s *Service) CreateImageKey(ctx context.Context, code, note string, limit *int64) (*store.ImageAccessKey, error) {
	if limit != nil && *limit < 0 {
		return nil, ErrNegativeLimit
	}
	code, err := s.allocateCode(code, func(c string) (bool, error) {
		_, err := s.repo.GetImageKeyByCode(ctx, c)
		return exists(err)
	})
	if err != nil {
		return nil, err
	}
	k := &store.ImageAccessKey{Code: code, Note: note, IsActive: true, ImageLimit: limit}
	if err := s.repo.CreateImageKey(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

// ListConfig returns every stored config entry with secrets masked.
func (s *Service) ListConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.repo.ListConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		v := r.Value
		if slices.Contains(secretConfigKeys, r.Key) {
			v = mask(v)
		}
		out[r.Key] = v
	}
	return out, nil
}

// SetConfig writes a known key through the settings resolver so cached values are invalidated.
func (s *Service) SetConfig(ctx context.Context, key, value string) error {
	if !slices.Contains(store.KnownConfigKeys, key) {
		return ErrUnknownConfigKey
	}
	if key == store.ConfigAdminPassword {
		return s.UpdatePassword(ctx, value)
	}
	return s.settings.Set(ctx, key, strings.TrimSpace(value))
}

func (s *Service) allocateCode(code string, taken func(string) (bool, error)) (string, error) {
	if code = strings.TrimSpace(code); code != "" {
		t, err := taken(code)
		if err != nil {
			return "", err
		}
		if t {
			return "", ErrCodeTaken
		}
		return code, nil
	}
	for i := 0; i < codeAllocateAttempts; i++ {
		c, err := randomCode(generatedCodeLen)
		if err != nil {
			return "", err
		}
		t, err := taken(c)
		if err != nil {
			return "", err
		}
		if !t {
			return c, nil
		}
	}
	return "", ErrCodeAllocation
}

func randomCode(n int) (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[idx.Int64()]
	}
	return string(out), nil
}

func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "****" + v[len(v)-4:]
}
