package usage

import (
	"context"
	"fmt"
	"log"
)

type Store interface {
	IncrementTokenUsage(ctx context.Context, code, deviceID string, amount int64) (bool, error)
	IncrementImageUsage(ctx context.Context, imageCode string) (bool, error)
}

// Applier writes tasks to the store. A write the store ignores (key disabled, device banned)
// is not an error.
type Applier struct {
	store    Store
	observer Observer
}

func NewApplier(store Store, observer Observer) *Applier {
	return &Applier{store: store, observer: observer}
}

func (a *Applier) Apply(ctx context.Context, t Task) error {
	var (
		applied bool
		err     error
	)
	switch t.Kind {
	case KindTokens:
		applied, err = a.store.IncrementTokenUsage(ctx, t.KeyCode, t.DeviceID, t.Tokens)
	case KindImage:
		applied, err = a.store.IncrementImageUsage(ctx, t.ImageKeyCode)
	default:
		err = fmt.Errorf("unknown usage task kind %q", t.Kind)
	}

	switch {
	case err != nil:
		a.observe(t.Kind, "failed")
		return err
	case !applied:
		log.Printf("usage ignored by store kind=%s key=%s device=%s image_key=%s",
			t.Kind, t.KeyCode, t.DeviceID, t.ImageKeyCode)
		a.observe(t.Kind, "ignored")
	default:
		a.observe(t.Kind, "applied")
	}
	return nil
}

func (a *Applier) observe(kind TaskKind, outcome string) {
	if a.observer != nil {
		a.observer.ObserveUsage(string(kind), outcome)
	}
}
