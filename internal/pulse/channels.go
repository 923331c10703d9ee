package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/HerbHall/pulsewatch/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// channelsKey is the gateway config key holding every notification channel.
const channelsKey = "notification_channels"

var (
	ErrChannelNotFound = errors.New("notification channel not found")
	ErrInvalidChannel  = errors.New("invalid notification channel")
)

// ChannelStore manages notification channels as one JSON document in the
// gateway's key/value config. The loaded list is cached, so reads observe
// writes made through the same store even if persistence later fails.
type ChannelStore struct {
	gw       store.Gateway
	validate *validator.Validate

	mu       sync.Mutex
	loaded   bool
	channels []models.NotificationChannel
}

// NewChannelStore creates a channel store over gw.
func NewChannelStore(gw store.Gateway, validate *validator.Validate) *ChannelStore {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &ChannelStore{gw: gw, validate: validate}
}

// load fills the cache from the gateway on first use. Caller holds s.mu.
func (s *ChannelStore) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw, err := s.gw.GetConfig(ctx, channelsKey)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	var list []models.NotificationChannel
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("decode channels: %w", err)
		}
	}
	s.channels = list
	s.loaded = true
	return nil
}

// save writes the cache back to the gateway. Caller holds s.mu.
func (s *ChannelStore) save(ctx context.Context) error {
	raw, err := json.Marshal(s.channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	if err := s.gw.SaveConfig(ctx, channelsKey, raw); err != nil {
		persistenceErrors.WithLabelValues("save_channels").Inc()
		return fmt.Errorf("save channels: %w", err)
	}
	return nil
}

func (s *ChannelStore) indexOf(id string) int {
	for i := range s.channels {
		if s.channels[i].ID == id {
			return i
		}
	}
	return -1
}

// check validates ch and its type-specific config.
func (s *ChannelStore) check(ch *models.NotificationChannel) error {
	if err := s.validate.Struct(ch); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}
	var cfg any
	switch ch.Type {
	case models.ChannelTypeWebhook:
		cfg = &WebhookConfig{}
	case models.ChannelTypeEmail:
		cfg = &EmailConfig{}
	}
	if err := json.Unmarshal(ch.Config, cfg); err != nil {
		return fmt.Errorf("%w: config: %v", ErrInvalidChannel, err)
	}
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: config: %v", ErrInvalidChannel, err)
	}
	return nil
}

// List returns every channel.
func (s *ChannelStore) List(ctx context.Context) ([]models.NotificationChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	out := make([]models.NotificationChannel, len(s.channels))
	copy(out, s.channels)
	return out, nil
}

// Get returns the channel with id, or nil if none exists.
func (s *ChannelStore) Get(ctx context.Context, id string) (*models.NotificationChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil, nil
	}
	ch := s.channels[i]
	return &ch, nil
}

// Create validates ch, assigns it an ID and timestamps, and stores it.
func (s *ChannelStore) Create(ctx context.Context, ch *models.NotificationChannel) error {
	if err := s.check(ch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	ch.ID = uuid.New().String()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	ch.LastTriggered = nil
	s.channels = append(s.channels, *ch)
	if err := s.save(ctx); err != nil {
		s.channels = s.channels[:len(s.channels)-1]
		return err
	}
	return nil
}

// Update replaces the channel with ch.ID, keeping its creation time and last trigger.
func (s *ChannelStore) Update(ctx context.Context, ch *models.NotificationChannel) error {
	if err := s.check(ch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}
	i := s.indexOf(ch.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, ch.ID)
	}
	old := s.channels[i]
	ch.CreatedAt = old.CreatedAt
	ch.LastTriggered = old.LastTriggered
	ch.UpdatedAt = time.Now().UTC()
	s.channels[i] = *ch
	if err := s.save(ctx); err != nil {
		s.channels[i] = old
		return err
	}
	return nil
}

// Delete removes the channel with id.
func (s *ChannelStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	prev := append([]models.NotificationChannel(nil), s.channels...)
	s.channels = append(s.channels[:i], s.channels[i+1:]...)
	if err := s.save(ctx); err != nil {
		s.channels = prev
		return err
	}
	return nil
}

// MarkTriggered records a successful delivery time. The in-memory value is
// kept even if persisting it fails.
func (s *ChannelStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	t := at.UTC()
	s.channels[i].LastTriggered = &t
	return s.save(ctx)
}
