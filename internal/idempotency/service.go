package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/models"
	"example.com/afms/internal/repository"
)

// ErrKeyCollision is returned when a known key arrives with a different
// payload hash: same fingerprint, different content, possibly a replay.
var ErrKeyCollision = errors.New("idempotency key collision: same key with different request content")

const (
	// DefaultTTL bounds how long a processed request blocks replays
	DefaultTTL = 24 * time.Hour

	// DefaultDedupWindow is the attendance scan suppression window
	DefaultDedupWindow = 5 * time.Minute
)

// volatileFields are stripped before hashing so retried requests with fresh
// client timestamps still hash identically.
var volatileFields = map[string]struct{}{
	"timestamp":    {},
	"time":         {},
	"created_at":   {},
	"updated_at":   {},
	"sent_at":      {},
	"request_time": {},
	"nonce":        {},
}

// CheckResult is the outcome of an idempotency check
type CheckResult struct {
	IsDuplicate      bool
	IdempotencyKey   string
	ExistingResponse []byte
	Status           string
}

// Service detects duplicate submissions and duplicate attendance scans
type Service struct {
	repo        repository.IdempotencyRepository
	scans       repository.AttendanceScanRepository
	defaultTTL  time.Duration
	dedupWindow time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithDefaultTTL overrides the default key expiry
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

// WithDedupWindow overrides the attendance dedup window
func WithDedupWindow(w time.Duration) Option {
	return func(s *Service) { s.dedupWindow = w }
}

// NewService creates a new idempotency service
func NewService(repo repository.IdempotencyRepository, scans repository.AttendanceScanRepository, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		scans:       scans,
		defaultTTL:  DefaultTTL,
		dedupWindow: DefaultDedupWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateKey computes a deterministic key from the canonical request tuple.
// Identical inputs always yield the identical key.
func GenerateKey(deviceID, operation string, requestData interface{}, userID string) string {
	canonical := canonicalJSON(requestData)
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{deviceID, operation, canonical, userID}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// RequestHash fingerprints the request content with volatile fields stripped
func RequestHash(requestData interface{}) string {
	sum := sha256.Sum256([]byte(canonicalJSON(requestData)))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders requestData as JSON with volatile fields removed.
// Map keys are sorted by encoding/json, so the output is stable across
// semantically equal inputs.
func canonicalJSON(requestData interface{}) string {
	raw, err := json.Marshal(requestData)
	if err != nil {
		return ""
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	stripped := stripVolatile(decoded)
	out, err := json.Marshal(stripped)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func stripVolatile(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if _, volatile := volatileFields[strings.ToLower(k)]; volatile {
				continue
			}
			out[k] = stripVolatile(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = stripVolatile(inner)
		}
		return out
	default:
		return v
	}
}

// Check performs the idempotency check for one request. A zero ttl uses the
// service default. Atomicity of check-then-create rests on the unique key
// index: a racing creator loses with a duplicate-key error and is re-read as
// an existing record.
func (s *Service) Check(ctx context.Context, deviceID, operation string, requestData interface{}, userID string, ttl time.Duration) (*CheckResult, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	key := GenerateKey(deviceID, operation, requestData, userID)
	hash := RequestHash(requestData)

	record, err := s.repo.FindByKey(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to look up idempotency key")
	}

	if record != nil && time.Now().After(record.ExpiresAt) {
		if err := s.repo.DeleteByKey(ctx, key); err != nil {
			return nil, errors.Wrap(err, "failed to delete expired idempotency key")
		}
		record = nil
	}

	if record == nil {
		fresh := &models.IdempotencyKey{
			Key:         key,
			RequestHash: hash,
			Status:      models.IdempotencyStatusProcessing,
			ExpiresAt:   time.Now().Add(ttl),
		}
		if err := s.repo.Create(ctx, fresh); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				// Lost the race to a concurrent request with the same key
				record, err = s.repo.FindByKey(ctx, key)
				if err != nil {
					return nil, errors.Wrap(err, "failed to re-read idempotency key after race")
				}
				return s.resolveExisting(key, hash, record)
			}
			return nil, errors.Wrap(err, "failed to create idempotency key")
		}
		return &CheckResult{
			IsDuplicate:    false,
			IdempotencyKey: key,
			Status:         models.IdempotencyStatusProcessing,
		}, nil
	}

	return s.resolveExisting(key, hash, record)
}

func (s *Service) resolveExisting(key, hash string, record *models.IdempotencyKey) (*CheckResult, error) {
	if record.RequestHash != hash {
		log.Warn().
			Str("event_category", "security").
			Str("idempotency_key", key).
			Msg("Idempotency key collision: same key, different request content")
		return nil, ErrKeyCollision
	}

	return &CheckResult{
		IsDuplicate:      true,
		IdempotencyKey:   key,
		ExistingResponse: record.Response,
		Status:           record.Status,
	}, nil
}

// MarkCompleted records the response for a processed key. Best-effort:
// storage failures are logged, never surfaced.
func (s *Service) MarkCompleted(ctx context.Context, key string, response interface{}) {
	record, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to load idempotency key for completion")
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to marshal idempotency response")
		return
	}

	record.Status = models.IdempotencyStatusCompleted
	record.Response = data
	if err := s.repo.Update(ctx, record); err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to mark idempotency key completed")
	}
}

// MarkFailed records a failed operation for a key. Best-effort.
func (s *Service) MarkFailed(ctx context.Context, key string, opErr error) {
	record, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to load idempotency key for failure")
		return
	}

	msg := opErr.Error()
	record.Status = models.IdempotencyStatusFailed
	record.LastError = &msg
	if err := s.repo.Update(ctx, record); err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to mark idempotency key failed")
	}
}

// CleanupExpired deletes all records past their expiry
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up expired idempotency keys")
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Cleaned up expired idempotency keys")
	}
	return count, nil
}

// CheckAttendanceDeduplication reports whether a scan is a duplicate of one
// already accepted inside the window. A zero window uses the service default.
// Internal errors fail open (not a duplicate): a dedup-store hiccup must not
// block employees from clocking in.
func (s *Service) CheckAttendanceDeduplication(ctx context.Context, deviceID, employeeID string, fingerprintPayload []byte, scannedAt time.Time, window time.Duration) bool {
	if window <= 0 {
		window = s.dedupWindow
	}

	sum := sha256.Sum256(fingerprintPayload)
	payloadHash := hex.EncodeToString(sum[:])

	duplicate, err := s.scans.HasRecent(ctx, deviceID, employeeID, payloadHash, scannedAt.Add(-window))
	if err != nil {
		log.Error().Err(err).
			Str("device_id", deviceID).
			Str("employee_id", employeeID).
			Msg("Attendance dedup check failed, failing open")
		return false
	}
	if duplicate {
		log.Info().
			Str("device_id", deviceID).
			Str("employee_id", employeeID).
			Msg("Duplicate attendance scan suppressed")
		return true
	}

	scan := &models.AttendanceScan{
		DeviceID:    deviceID,
		EmployeeID:  employeeID,
		PayloadHash: payloadHash,
		ScannedAt:   scannedAt,
	}
	if err := s.scans.Create(ctx, scan); err != nil {
		log.Error().Err(err).
			Str("device_id", deviceID).
			Str("employee_id", employeeID).
			Msg("Failed to record attendance scan for dedup")
	}
	return false
}
