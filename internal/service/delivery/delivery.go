package delivery

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"secure_drop/internal/model"
	"secure_drop/internal/protocol/envelope"
	"secure_drop/internal/repository/message"
	"secure_drop/internal/utils/log"

	"go.uber.org/zap"
)

// DefaultTTL is how long a message lives when the caller has no preference.
const DefaultTTL = 10 * time.Minute

var ErrInvalidTTL = errors.New("ttl must not be negative")

type (
	// KeyProvider loads key material for an identity on every call.
	KeyProvider interface {
		PublicKey(identity string) (*rsa.PublicKey, error)
		PrivateKey(identity string) (*rsa.PrivateKey, error)
	}

	// Service runs send and receive for single-message recipient slots.
	Service struct {
		keys    KeyProvider
		store   *message.Store
		metrics *Metrics
		now     func() time.Time
	}

	Option func(*Service)

	SendReceipt struct {
		RecipientID   string
		ExpiryUTC     time.Time
		Replaced      bool
		ExpiredPurged bool
	}

	// Receipt is the outcome of Receive. Plaintext is set only when Status
	// is StatusDelivered.
	Receipt struct {
		RecipientID string
		Status      Status
		Plaintext   string
	}

	// SlotStatus describes a slot without opening its envelope.
	SlotStatus struct {
		RecipientID string
		Status      Status
		ReadOnce    bool
		ExpiryUTC   time.Time
		Remaining   time.Duration
	}
)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(keys KeyProvider, store *message.Store, opts ...Option) *Service {
	s := &Service{
		keys:  keys,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send seals text for recipientID and stores it as a read-once message that
// expires ttl from now, replacing whatever the slot held.
func (s *Service) Send(ctx context.Context, recipientID, text string, ttl time.Duration) (*SendReceipt, error) {
	receipt, err := s.send(ctx, recipientID, text, ttl)
	if err != nil {
		s.metrics.send(errorOutcome(err))
		log.Error("send failed", zap.String("recipient", recipientID), zap.Error(err))
		return nil, err
	}
	s.metrics.send("sent")
	log.Info("message stored",
		zap.String("recipient", recipientID),
		zap.Time("expiry_utc", receipt.ExpiryUTC),
		zap.Bool("replaced", receipt.Replaced),
		zap.Bool("expired_purged", receipt.ExpiredPurged),
	)
	return receipt, nil
}

func (s *Service) send(ctx context.Context, recipientID, text string, ttl time.Duration) (*SendReceipt, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTTL, ttl)
	}
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return nil, err
	}

	pub, err := s.keys.PublicKey(recipientID)
	if err != nil {
		return nil, err
	}
	env, err := envelope.Seal([]byte(text), pub)
	if err != nil {
		return nil, err
	}

	unlock, err := s.store.LockSlot(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now().UTC()
	msg := &model.StoredMessage{
		Envelope:  env,
		ReadOnce:  true,
		ExpiryUTC: now.Add(ttl),
	}
	res, err := s.store.Put(ctx, recipientID, msg, now)
	if err != nil {
		return nil, err
	}

	return &SendReceipt{
		RecipientID:   recipientID,
		ExpiryUTC:     msg.ExpiryUTC,
		Replaced:      res.Replaced,
		ExpiredPurged: res.ExpiredPurged,
	}, nil
}

// Receive opens the message waiting for recipientID. An empty or expired
// slot is a normal outcome, not an error. When the envelope fails to open the
// error is returned unchanged and the record stays in place.
func (s *Service) Receive(ctx context.Context, recipientID string) (*Receipt, error) {
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return nil, err
	}

	unlock, err := s.store.LockSlot(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	msg, err := s.store.Get(ctx, recipientID, s.now())
	if errors.Is(err, message.ErrExpired) {
		s.metrics.receive(StatusExpired.String())
		log.Info("message expired and deleted", zap.String("recipient", recipientID))
		return &Receipt{RecipientID: recipientID, Status: StatusExpired}, nil
	}
	if err != nil {
		s.metrics.receive(errorOutcome(err))
		return nil, err
	}
	if msg == nil {
		s.metrics.receive(StatusNotFound.String())
		return &Receipt{RecipientID: recipientID, Status: StatusNotFound}, nil
	}

	plaintext, err := s.open(recipientID, msg)
	if err != nil {
		s.metrics.receive(errorOutcome(err))
		if envelope.IsTamper(err) {
			log.Warn("message failed verification, left in place", zap.String("recipient", recipientID), zap.Error(err))
		} else {
			log.Error("receive failed", zap.String("recipient", recipientID), zap.Error(err))
		}
		return nil, err
	}

	if msg.ReadOnce {
		// Plaintext is withheld if the one-time read cannot be enforced.
		if err := s.store.Delete(ctx, recipientID); err != nil {
			s.metrics.receive(errorOutcome(err))
			return nil, err
		}
		log.Info("message delivered and destroyed", zap.String("recipient", recipientID))
	}

	s.metrics.receive(StatusDelivered.String())
	return &Receipt{
		RecipientID: recipientID,
		Status:      StatusDelivered,
		Plaintext:   string(plaintext),
	}, nil
}

func (s *Service) open(recipientID string, msg *model.StoredMessage) ([]byte, error) {
	priv, err := s.keys.PrivateKey(recipientID)
	if err != nil {
		return nil, err
	}
	return envelope.Open(msg.Envelope, priv)
}

// Inspect reports whether a message is pending and how long it has left.
// Like any access, it deletes an expired record.
func (s *Service) Inspect(ctx context.Context, recipientID string) (*SlotStatus, error) {
	if err := model.ValidateRecipientID(recipientID); err != nil {
		return nil, err
	}

	unlock, err := s.store.LockSlot(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	msg, err := s.store.Get(ctx, recipientID, now)
	if errors.Is(err, message.ErrExpired) {
		return &SlotStatus{RecipientID: recipientID, Status: StatusExpired}, nil
	}
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return &SlotStatus{RecipientID: recipientID, Status: StatusNotFound}, nil
	}

	return &SlotStatus{
		RecipientID: recipientID,
		Status:      StatusPending,
		ReadOnce:    msg.ReadOnce,
		ExpiryUTC:   msg.ExpiryUTC,
		Remaining:   msg.Remaining(now),
	}, nil
}

// Discard deletes whatever recipientID's slot holds.
func (s *Service) Discard(ctx context.Context, recipientID string) error {
	unlock, err := s.store.LockSlot(ctx, recipientID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, recipientID); err != nil {
		return err
	}
	log.Info("slot discarded", zap.String("recipient", recipientID))
	return nil
}

// Wipe deletes every stored message.
func (s *Service) Wipe(ctx context.Context) (int64, error) {
	n, err := s.store.Purge(ctx)
	if err != nil {
		log.Error("wipe failed", zap.Int64("removed", n), zap.Error(err))
		return n, err
	}
	log.Info("all messages wiped", zap.Int64("removed", n))
	return n, nil
}
