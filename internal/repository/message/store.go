package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"secure_drop/internal/model"
	"secure_drop/internal/utils/keymutex"
	"secure_drop/internal/utils/log"

	"go.uber.org/zap"
)

var (
	// ErrExpired is returned by Get when the slot held a record past its
	// expiry. The record has been deleted by the time the caller sees it.
	ErrExpired = errors.New("message expired")

	ErrCorruptRecord = errors.New("stored record is corrupt")
)

type (
	// Backend is raw slot persistence. Load returns nil, nil when the slot
	// is empty and Remove is idempotent.
	Backend interface {
		Load(ctx context.Context, recipientID string) (*model.StoredMessage, error)
		Save(ctx context.Context, recipientID string, msg *model.StoredMessage) error
		Remove(ctx context.Context, recipientID string) error
		RemoveAll(ctx context.Context) (int64, error)
		Close() error
	}

	// SlotLocker is implemented by backends that can exclude other processes
	// from a slot.
	SlotLocker interface {
		LockSlot(ctx context.Context, recipientID string) (unlock func(), err error)
	}

	PutResult struct {
		// Replaced is set when a still-valid message was overwritten.
		Replaced bool
		// ExpiredPurged is set when the slot held an expired message that
		// was deleted before the write.
		ExpiredPurged bool
	}

	// Store enforces expiry-on-access over a Backend.
	Store struct {
		backend Backend
		slots   *keymutex.KeyMutex
	}
)

func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		slots:   keymutex.New(),
	}
}

// LockSlot gives the caller exclusive use of recipientID's slot until unlock
// is called.
func (s *Store) LockSlot(ctx context.Context, recipientID string) (func(), error) {
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return nil, err
	}

	unlock := s.slots.Lock(recipientID)
	locker, ok := s.backend.(SlotLocker)
	if !ok {
		return unlock, nil
	}

	release, err := locker.LockSlot(ctx, recipientID)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		release()
		unlock()
	}, nil
}

// Put creates or overwrites the slot for recipientID.
func (s *Store) Put(ctx context.Context, recipientID string, msg *model.StoredMessage, now time.Time) (PutResult, error) {
	var res PutResult
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return res, err
	}
	if msg == nil || msg.Envelope == nil {
		return res, fmt.Errorf("put %s: empty message", recipientID)
	}

	existing, err := s.backend.Load(ctx, recipientID)
	if err != nil && !errors.Is(err, ErrCorruptRecord) {
		return res, fmt.Errorf("put %s: %w", recipientID, err)
	}
	if existing != nil {
		if existing.ExpiredAt(now) {
			if err := s.backend.Remove(ctx, recipientID); err != nil {
				return res, fmt.Errorf("put %s: purge expired: %w", recipientID, err)
			}
			res.ExpiredPurged = true
			log.Debug("purged expired message on overwrite", zap.String("recipient", recipientID))
		} else {
			res.Replaced = true
		}
	}

	record := &model.StoredMessage{
		Envelope:  msg.Envelope,
		ReadOnce:  msg.ReadOnce,
		ExpiryUTC: msg.ExpiryUTC.UTC(),
	}
	if err := s.backend.Save(ctx, recipientID, record); err != nil {
		return res, fmt.Errorf("put %s: %w", recipientID, err)
	}
	return res, nil
}

// Get returns the slot content, nil when empty, or ErrExpired after deleting
// an expired record. Expiry is judged against now.
func (s *Store) Get(ctx context.Context, recipientID string, now time.Time) (*model.StoredMessage, error) {
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return nil, err
	}

	msg, err := s.backend.Load(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", recipientID, err)
	}
	if msg == nil {
		return nil, nil
	}

	if msg.ExpiredAt(now) {
		if err := s.backend.Remove(ctx, recipientID); err != nil {
			return nil, fmt.Errorf("get %s: purge expired: %w", recipientID, err)
		}
		log.Debug("purged expired message on read", zap.String("recipient", recipientID))
		return nil, ErrExpired
	}
	return msg, nil
}

// Delete removes the slot. Deleting an empty slot is not an error.
func (s *Store) Delete(ctx context.Context, recipientID string) error {
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return err
	}
	if err := s.backend.Remove(ctx, recipientID); err != nil {
		return fmt.Errorf("delete %s: %w", recipientID, err)
	}
	return nil
}

// Purge removes every slot and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	n, err := s.backend.RemoveAll(ctx)
	if err != nil {
		return n, fmt.Errorf("purge: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
