package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/song-pt/TongAI/internal/store"
)

var (
	ErrKeyRejected  = errors.New("access key invalid or disabled")
	ErrDeviceBanned = errors.New("device banned")
	ErrUnregistered = errors.New("device not logged in with this key")
	ErrBadIdentity  = errors.New("invalid access key or device id")
)

const (
	maxCodeLen      = 128
	maxDeviceIDLen  = 64
	maxUserAgentLen = 512
	maxLocationLen  = 128
)

// Identity is the (key code, device id) pair every request and usage report is attributed to.
type Identity struct {
	KeyCode  string
	DeviceID string
}

// LoadOrCreate keeps a client supplied device id and generates one when absent.
func LoadOrCreate(keyCode, deviceID string) (Identity, error) {
	id := Identity{KeyCode: strings.TrimSpace(keyCode), DeviceID: strings.TrimSpace(deviceID)}
	if id.DeviceID == "" {
		id.DeviceID = uuid.NewString()
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (id Identity) Validate() error {
	if id.KeyCode == "" || len(id.KeyCode) > maxCodeLen {
		return ErrBadIdentity
	}
	if id.DeviceID == "" || len(id.DeviceID) > maxDeviceIDLen {
		return ErrBadIdentity
	}
	return nil
}

type DeviceInfo struct {
	UserAgent string
	Location  string
}

type State string

const (
	StateUnregistered State = "unregistered"
	StateActive       State = "active"
	StateDisabled     State = "disabled"
	StateOverQuota    State = "over_quota"
	StateBanned       State = "banned"
	StateDeleted      State = "deleted"
)

type Gate struct {
	repo *store.Repo
}

func New(repo *store.Repo) *Gate {
	return &Gate{repo: repo}
}

// Login upserts the device session and reports whether the pair may transact.
func (g *Gate) Login(ctx context.Context, id Identity, info DeviceInfo) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	ok, err := g.repo.LoginWithKey(ctx, id.KeyCode, id.DeviceID,
		truncate(info.UserAgent, maxUserAgentLen), truncate(info.Location, maxLocationLen))
	if err != nil {
		return false, fmt.Errorf("login: %w", err)
	}
	return ok, nil
}

// VerifyImageKey links imageCode to the caller's device session when the image key is usable.
func (g *Gate) VerifyImageKey(ctx context.Context, imageCode string, id Identity) (bool, error) {
	imageCode = strings.TrimSpace(imageCode)
	if imageCode == "" {
		return false, nil
	}
	if err := id.Validate(); err != nil {
		return false, err
	}
	ok, err := g.repo.VerifyImageKey(ctx, imageCode, id.KeyCode, id.DeviceID)
	if err != nil {
		return false, fmt.Errorf("verify image key: %w", err)
	}
	return ok, nil
}

// Authorize is the per-request check: same predicate as Login, without touching the session.
func (g *Gate) Authorize(ctx context.Context, id Identity) error {
	st, err := g.State(ctx, id)
	if err != nil {
		return err
	}
	switch st {
	case StateActive:
		return nil
	case StateBanned:
		return ErrDeviceBanned
	case StateUnregistered:
		return ErrUnregistered
	default:
		return ErrKeyRejected
	}
}

func (g *Gate) State(ctx context.Context, id Identity) (State, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}

	key, err := g.repo.GetKeyByCode(ctx, id.KeyCode)
	if errors.Is(err, store.ErrNotFound) {
		return StateDeleted, nil
	}
	if err != nil {
		return "", fmt.Errorf("load key: %w", err)
	}

	sess, err := g.repo.GetDeviceSession(ctx, id.KeyCode, id.DeviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sess = nil
	case err != nil:
		return "", fmt.Errorf("load session: %w", err)
	}

	switch {
	case sess != nil && sess.IsBanned:
		return StateBanned, nil
	case !key.IsActive && key.OverQuota():
		return StateOverQuota, nil
	case !key.IsActive:
		return StateDisabled, nil
	case sess == nil:
		return StateUnregistered, nil
	default:
		return StateActive, nil
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
