// Package icp maintains versioned, immutable snapshots of the ideal customer
// profile. The profile store is single-writer multiple-reader: the learning
// engine (or an explicit operator action) commits new versions, and readers
// always observe a complete snapshot, never a partial weight update.
package icp

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/resilience"
)

// Persister durably records committed profile versions. SaveProfileVersion is
// called inside the commit critical section so a crash never leaves the
// in-memory and durable views disagreeing about the latest version.
type Persister interface {
	SaveProfileVersion(ctx context.Context, profile *model.ICPProfile) error
}

// Store holds the current ICP profile and its append-only version history.
type Store struct {
	mu                 sync.RWMutex
	current            *model.ICPProfile
	history            []*model.ICPProfile
	persist            Persister
	autoApplyThreshold float64
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches a durable backend for committed versions.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithAutoApplyThreshold sets the minimum suggestion confidence for
// non-manual commits. Default: 0.8.
func WithAutoApplyThreshold(t float64) Option {
	return func(s *Store) { s.autoApplyThreshold = t }
}

// NewStore creates a profile store seeded with initial. The seed profile
// must satisfy the weight invariant. Prior history versions, if any, must be
// ordered oldest-first and end with initial.
func NewStore(initial *model.ICPProfile, history []*model.ICPProfile, opts ...Option) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, eris.Wrap(err, "icp: seed profile")
	}

	s := &Store{
		current:            initial,
		history:            append([]*model.ICPProfile(nil), history...),
		autoApplyThreshold: 0.8,
	}
	if len(s.history) == 0 || s.history[len(s.history)-1].Version != initial.Version {
		s.history = append(s.history, initial)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Current returns the latest committed profile snapshot. The returned profile
// is shared and must not be mutated.
func (s *Store) Current() *model.ICPProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version returns the profile snapshot committed at the given version, if it
// is still in history.
func (s *Store) Version(v int) (*model.ICPProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.history {
		if p.Version == v {
			return p, true
		}
	}
	return nil, false
}

// History returns all committed versions, oldest first. History is
// append-only; prior versions are never deleted.
func (s *Store) History() []*model.ICPProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.ICPProfile(nil), s.history...)
}

// AutoApplyThreshold returns the configured confidence floor for auto-commits.
func (s *Store) AutoApplyThreshold() float64 {
	return s.autoApplyThreshold
}

// Commit applies a learning suggestion, producing a new profile version.
// Suggestions below the auto-apply confidence threshold are not applied and
// come back with ErrLowConfidence; they stay proposed for manual commit.
func (s *Store) Commit(ctx context.Context, suggestion *model.LearningSuggestion) (*model.ICPProfile, error) {
	if suggestion.Confidence < s.autoApplyThreshold {
		return nil, eris.Wrapf(resilience.ErrLowConfidence,
			"icp: suggestion %s confidence %.3f below auto-apply threshold %.3f",
			suggestion.ID, suggestion.Confidence, s.autoApplyThreshold)
	}
	return s.apply(ctx, suggestion, model.SuggestionAutoApplied)
}

// CommitManual applies a suggestion on explicit operator approval,
// bypassing the confidence gate but never the weight invariant.
func (s *Store) CommitManual(ctx context.Context, suggestion *model.LearningSuggestion) (*model.ICPProfile, error) {
	return s.apply(ctx, suggestion, model.SuggestionApplied)
}

func (s *Store) apply(ctx context.Context, suggestion *model.LearningSuggestion, status model.SuggestionStatus) (*model.ICPProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := adjusted(s.current, suggestion.Criterion, suggestion.WeightDelta)
	if err != nil {
		return nil, err
	}

	if err := s.commitLocked(ctx, next); err != nil {
		return nil, err
	}

	suggestion.Status = status
	suggestion.AppliedVersion = next.Version

	zap.L().Info("icp: committed profile version",
		zap.Int("version", next.Version),
		zap.String("criterion", suggestion.Criterion),
		zap.Float64("delta", suggestion.WeightDelta),
		zap.Float64("confidence", suggestion.Confidence),
		zap.Int("supporting_outcomes", len(suggestion.OutcomeIDs)),
	)
	return next, nil
}

// Replace commits an operator-edited criteria set as a new version. Used by
// profile init and explicit operator edits; the learning engine goes through
// Commit instead.
func (s *Store) Replace(ctx context.Context, criteria []model.Criterion) (*model.ICPProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	next.Criteria = criteria
	next.Version = s.current.Version + 1
	next.CreatedAt = time.Now().UTC()
	if err := next.Validate(); err != nil {
		return nil, resilience.NewInvariantViolation("icp.replace", "%s", err.Error())
	}

	if err := s.commitLocked(ctx, next); err != nil {
		return nil, err
	}
	zap.L().Info("icp: replaced profile criteria", zap.Int("version", next.Version))
	return next, nil
}

// Rollback re-commits a prior version's criteria as a new version, preserving
// the append-only history.
func (s *Store) Rollback(ctx context.Context, version int) (*model.ICPProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *model.ICPProfile
	for _, p := range s.history {
		if p.Version == version {
			target = p
			break
		}
	}
	if target == nil {
		return nil, eris.Errorf("icp: version %d not found in history", version)
	}

	next := target.Clone()
	next.Version = s.current.Version + 1
	next.CreatedAt = time.Now().UTC()

	if err := s.commitLocked(ctx, next); err != nil {
		return nil, err
	}
	zap.L().Info("icp: rolled back profile",
		zap.Int("restored_from", version),
		zap.Int("new_version", next.Version),
	)
	return next, nil
}

// commitLocked persists and publishes next. Callers hold the write lock.
// Publication is all-or-nothing: on persistence failure the prior version
// stays current.
func (s *Store) commitLocked(ctx context.Context, next *model.ICPProfile) error {
	if err := next.Validate(); err != nil {
		return resilience.NewInvariantViolation("icp.commit", "%s", err.Error())
	}
	if s.persist != nil {
		if err := s.persist.SaveProfileVersion(ctx, next); err != nil {
			return eris.Wrap(err, "icp: persist version")
		}
	}
	s.current = next
	s.history = append(s.history, next)
	return nil
}

// adjusted returns a new profile version with the named criterion's weight
// shifted by delta and all weights renormalized to sum 1.0. It fails with an
// InvariantViolation when the result cannot be renormalized.
func adjusted(current *model.ICPProfile, criterion string, delta float64) (*model.ICPProfile, error) {
	next := current.Clone()
	next.Version = current.Version + 1
	next.CreatedAt = time.Now().UTC()

	idx := -1
	for i, c := range next.Criteria {
		if c.Name == criterion {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, resilience.NewInvariantViolation("icp.commit", "criterion %q not in profile", criterion)
	}

	w := next.Criteria[idx].Weight + delta
	if w <= 0 || w >= 1 {
		return nil, resilience.NewInvariantViolation("icp.commit",
			"criterion %q weight %.4f%+.4f leaves no renormalizable weight set", criterion, next.Criteria[idx].Weight, delta)
	}
	next.Criteria[idx].Weight = w

	sum := 0.0
	for _, c := range next.Criteria {
		sum += c.Weight
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, resilience.NewInvariantViolation("icp.commit", "weights sum to %v", sum)
	}
	for i := range next.Criteria {
		next.Criteria[i].Weight /= sum
	}

	return next, nil
}

// NewSuggestionID mints an id for a learning suggestion.
func NewSuggestionID() string {
	return "sg-" + uuid.New().String()
}
