package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"delivery-engine/internal/util"

	"go.uber.org/zap"
)

// Price constant keys
const (
	KeyBookingBaseFare         = "BookingBaseFare"
	KeyMenuBaseFare            = "MenuBaseFare"
	KeyCustomBaseFare          = "CustomBaseFare"
	KeyTripBaseFare            = "TripBaseFare"
	KeyDistanceKoef            = "DistanceKoef"
	KeyMinDistance             = "MinDistance"
	KeyMaxDistance             = "MaxDistance"
	KeyLargeOrderFare          = "LargeOrderFare"
	KeyBringBackKoef           = "BringBackKoef"
	KeySurgeTimeKoef           = "SurgeTimeKoef"
	KeySurgeTimeStart          = "SurgeTimeStart"
	KeySurgeTimeEnd            = "SurgeTimeEnd"
	KeyAwaitingTimeRate        = "AwaitingTimeRate"
	KeyCreditDiscountThreshold = "CreditDiscountThreshold"
)

// defaults are seeded into the backing store on first read of a missing key.
var defaults = map[string]float64{
	KeyBookingBaseFare:         12.99,
	KeyMenuBaseFare:            4.99,
	KeyCustomBaseFare:          9.99,
	KeyTripBaseFare:            9.99,
	KeyDistanceKoef:            0.55,
	KeyMinDistance:             3000,
	KeyMaxDistance:             20000,
	KeyLargeOrderFare:          5.00,
	KeyBringBackKoef:           0.5,
	KeySurgeTimeKoef:           0.2,
	KeySurgeTimeStart:          990,
	KeySurgeTimeEnd:            1170,
	KeyAwaitingTimeRate:        0.55,
	KeyCreditDiscountThreshold: 5.00,
}

// ErrKeyNotFound is returned by a Backend when a constant has never
// been written.
var ErrKeyNotFound = errors.New("price constant not found")

// Backend is the key/value store behind the constants. The redis client
// provides the production implementation.
type Backend interface {
	GetConstant(ctx context.Context, key string) (string, error)
	SetConstant(ctx context.Context, key, value string) error
}

// Constants is one consistent snapshot of every tunable used by the
// calculator. Pricing a single order always works off one snapshot.
type Constants struct {
	BookingBaseFare         float64
	MenuBaseFare            float64
	CustomBaseFare          float64
	TripBaseFare            float64
	DistanceKoef            float64
	MinDistance             float64
	MaxDistance             float64
	LargeOrderFare          float64
	BringBackKoef           float64
	SurgeTimeKoef           float64
	SurgeTimeStart          float64
	SurgeTimeEnd            float64
	AwaitingTimeRate        float64
	CreditDiscountThreshold float64
}

// ConstantsStore caches tunable financial constants in memory on top of
// a key/value backend, seeding hard-coded defaults on first read.
type ConstantsStore struct {
	backend Backend
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]float64
}

// NewConstantsStore creates a constants store over the given backend.
func NewConstantsStore(backend Backend) *ConstantsStore {
	return &ConstantsStore{
		backend: backend,
		logger:  util.GetLogger(),
		cache:   make(map[string]float64),
	}
}

// Get returns the value for key, lazily creating it with its default
// when the backend has never seen it.
func (cs *ConstantsStore) Get(ctx context.Context, key string) (float64, error) {
	cs.mu.RLock()
	if v, ok := cs.cache[key]; ok {
		cs.mu.RUnlock()
		return v, nil
	}
	cs.mu.RUnlock()

	raw, err := cs.backend.GetConstant(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		def, ok := defaults[key]
		if !ok {
			return 0, fmt.Errorf("unknown price constant: %s", key)
		}
		if err := cs.backend.SetConstant(ctx, key, formatConstant(def)); err != nil {
			return 0, fmt.Errorf("failed to seed constant %s: %w", key, err)
		}
		cs.logger.Info("Seeded price constant default",
			zap.String("key", key),
			zap.Float64("value", def))
		cs.put(key, def)
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read constant %s: %w", key, err)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt value for constant %s: %w", key, err)
	}
	cs.put(key, v)
	return v, nil
}

// Set writes a new value through to the backend and refreshes the cache.
// This is the runtime admin operation.
func (cs *ConstantsStore) Set(ctx context.Context, key string, value float64) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("unknown price constant: %s", key)
	}
	if err := cs.backend.SetConstant(ctx, key, formatConstant(value)); err != nil {
		return fmt.Errorf("failed to write constant %s: %w", key, err)
	}
	cs.put(key, value)
	cs.logger.Info("Price constant updated",
		zap.String("key", key),
		zap.Float64("value", value))
	return nil
}

// Snapshot reads every constant into one consistent struct.
func (cs *ConstantsStore) Snapshot(ctx context.Context) (*Constants, error) {
	c := &Constants{}
	for key, dst := range map[string]*float64{
		KeyBookingBaseFare:         &c.BookingBaseFare,
		KeyMenuBaseFare:            &c.MenuBaseFare,
		KeyCustomBaseFare:          &c.CustomBaseFare,
		KeyTripBaseFare:            &c.TripBaseFare,
		KeyDistanceKoef:            &c.DistanceKoef,
		KeyMinDistance:             &c.MinDistance,
		KeyMaxDistance:             &c.MaxDistance,
		KeyLargeOrderFare:          &c.LargeOrderFare,
		KeyBringBackKoef:           &c.BringBackKoef,
		KeySurgeTimeKoef:           &c.SurgeTimeKoef,
		KeySurgeTimeStart:          &c.SurgeTimeStart,
		KeySurgeTimeEnd:            &c.SurgeTimeEnd,
		KeyAwaitingTimeRate:        &c.AwaitingTimeRate,
		KeyCreditDiscountThreshold: &c.CreditDiscountThreshold,
	} {
		v, err := cs.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	return c, nil
}

func (cs *ConstantsStore) put(key string, v float64) {
	cs.mu.Lock()
	cs.cache[key] = v
	cs.mu.Unlock()
}

func formatConstant(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
