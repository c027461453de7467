// Package memory is an in-process implementation of every gate repository.
// It backs local development, the operator CLI's dry-run mode and the
// service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/consent"
	"github.com/ignite/compliance-gate/internal/service/gate"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

var (
	_ consent.Repository     = (*Store)(nil)
	_ touch.Repository       = (*Store)(nil)
	_ audit.Repository       = (*Store)(nil)
	_ policy.Repository      = (*Store)(nil)
	_ lockdown.Repository    = (*Store)(nil)
	_ timewindow.Repository  = (*Store)(nil)
	_ gate.ContactRepository = (*Store)(nil)
	_ gate.ControlRepository = (*Store)(nil)
)

// Store holds every entity in memory. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	contacts      map[string]domain.Contact
	consents      []domain.ConsentRecord
	suppressions  []domain.SuppressionRecord
	touches       []domain.OutboundTouch
	rules         []domain.ComplianceRule
	lockdownRules []domain.LockdownRule
	lockdowns     []domain.Lockdown
	audit         []domain.AuditEntry
	controls      map[string]domain.SystemControl
	hours         *domain.BusinessHours
	blocks        []domain.CalendarBlock

	err error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		contacts: make(map[string]domain.Contact),
		controls: make(map[string]domain.SystemControl),
	}
}

// SetError makes every subsequent call fail with err until cleared with nil.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Store) failed() error {
	return s.err
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// PutContact inserts or replaces a contact.
func (s *Store) PutContact(c domain.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

// AddComplianceRule appends a catalog rule.
func (s *Store) AddComplianceRule(r domain.ComplianceRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	s.rules = append(s.rules, r)
}

// AddLockdownRule appends a lockdown rule.
func (s *Store) AddLockdownRule(r domain.LockdownRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	s.lockdownRules = append(s.lockdownRules, r)
}

// SetBusinessHours replaces the business hours.
func (s *Store) SetBusinessHours(h domain.BusinessHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hours = &h
}

// AddCalendarBlock appends a calendar block.
func (s *Store) AddCalendarBlock(b domain.CalendarBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	s.blocks = append(s.blocks, b)
}

// LockdownRule returns a copy of the rule with the id.
func (s *Store) LockdownRule(id string) (domain.LockdownRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.lockdownRules {
		if r.ID == id {
			return r, true
		}
	}
	return domain.LockdownRule{}, false
}

// Touches returns a copy of every recorded touch.
func (s *Store) Touches() []domain.OutboundTouch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.OutboundTouch(nil), s.touches...)
}

// AuditEntries returns a copy of the audit log.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.audit...)
}

// ---------------------------------------------------------------------------
// gate.ContactRepository, gate.ControlRepository
// ---------------------------------------------------------------------------

// GetContact implements gate.ContactRepository.
func (s *Store) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	c, ok := s.contacts[id]
	if !ok {
		return nil, gate.ErrContactNotFound
	}
	return &c, nil
}

// GetControl implements gate.ControlRepository.
func (s *Store) GetControl(_ context.Context, key string) (*domain.SystemControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	c, ok := s.controls[key]
	if !ok {
		return &domain.SystemControl{Key: key}, nil
	}
	return &c, nil
}

// SetControl implements gate.ControlRepository.
func (s *Store) SetControl(_ context.Context, c *domain.SystemControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	s.controls[c.Key] = *c
	return nil
}

// ---------------------------------------------------------------------------
// consent.Repository
// ---------------------------------------------------------------------------

// IsSuppressed implements consent.Repository.
func (s *Store) IsSuppressed(_ context.Context, contactID string, ch domain.Channel) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return false, err
	}
	for _, r := range s.suppressions {
		if r.ContactID == contactID && r.IsActive() && r.Covers(ch) {
			return true, nil
		}
	}
	return false, nil
}

// HasValidConsent implements consent.Repository.
func (s *Store) HasValidConsent(_ context.Context, contactID string, ch domain.Channel, consentType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return false, err
	}
	for _, r := range s.consents {
		if r.ContactID == contactID && r.IsValid() && r.Matches(ch, consentType) {
			return true, nil
		}
	}
	return false, nil
}

// InsertConsent implements consent.Repository.
func (s *Store) InsertConsent(_ context.Context, rec *domain.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.consents = append(s.consents, *rec)
	return nil
}

// RevokeConsent implements consent.Repository.
func (s *Store) RevokeConsent(_ context.Context, contactID string, ch domain.Channel, consentType string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return 0, err
	}
	n := 0
	for i := range s.consents {
		r := &s.consents[i]
		if r.ContactID == contactID && r.IsValid() && r.Matches(ch, consentType) {
			t := at
			r.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

// Suppress implements consent.Repository.
func (s *Store) Suppress(_ context.Context, rec *domain.SuppressionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	for _, r := range s.suppressions {
		if r.ContactID == rec.ContactID && r.Channel == rec.Channel && r.IsActive() {
			return nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.suppressions = append(s.suppressions, *rec)
	return nil
}

// Reactivate implements consent.Repository.
func (s *Store) Reactivate(_ context.Context, contactID string, ch domain.Channel, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return 0, err
	}
	n := 0
	for i := range s.suppressions {
		r := &s.suppressions[i]
		if r.ContactID == contactID && r.Channel == ch && r.IsActive() {
			t := at
			r.ReactivatedAt = &t
			n++
		}
	}
	return n, nil
}

// ListConsent implements consent.Repository.
func (s *Store) ListConsent(_ context.Context, contactID string) ([]domain.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.ConsentRecord
	for _, r := range s.consents {
		if r.ContactID == contactID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListSuppressions implements consent.Repository.
func (s *Store) ListSuppressions(_ context.Context, contactID string) ([]domain.SuppressionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.SuppressionRecord
	for _, r := range s.suppressions {
		if r.ContactID == contactID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// touch.Repository
// ---------------------------------------------------------------------------

// InsertTouch implements touch.Repository. Touches are unique per
// idempotency key and status.
func (s *Store) InsertTouch(_ context.Context, t *domain.OutboundTouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	for _, e := range s.touches {
		if e.Status == t.Status && e.IdempotencyKey == t.IdempotencyKey {
			return touch.ErrDuplicateTouch
		}
	}
	s.touches = append(s.touches, *t)
	return nil
}

// CountSent implements touch.Repository.
func (s *Store) CountSent(_ context.Context, contactID string, ch domain.Channel, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range s.touches {
		if t.ContactID != contactID || t.Status != domain.TouchSent || t.CreatedAt.Before(since) {
			continue
		}
		if ch == "" || t.Channel == ch {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// audit.Repository
// ---------------------------------------------------------------------------

// InsertAudit implements audit.Repository.
func (s *Store) InsertAudit(_ context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	s.audit = append(s.audit, *e)
	return nil
}

// CountRecent implements audit.Repository.
func (s *Store) CountRecent(_ context.Context, actorModule, actionType *string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range s.audit {
		if actorModule != nil && e.ActorModule != *actorModule {
			continue
		}
		if actionType != nil && e.ActionType != *actionType {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

// ListRecent implements audit.Repository, newest first.
func (s *Store) ListRecent(_ context.Context, f audit.ListFilter) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ActionType != "" && e.ActionType != f.ActionType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// policy.Repository
// ---------------------------------------------------------------------------

// ListActiveComplianceRules implements policy.Repository.
func (s *Store) ListActiveComplianceRules(_ context.Context) ([]domain.ComplianceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.ComplianceRule
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListActiveLockdownRules implements policy.Repository.
func (s *Store) ListActiveLockdownRules(_ context.Context) ([]domain.LockdownRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.LockdownRule
	for _, r := range s.lockdownRules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// lockdown.Repository
// ---------------------------------------------------------------------------

// ActiveLockdownFor implements lockdown.Repository.
func (s *Store) ActiveLockdownFor(_ context.Context, agentType string) (*domain.Lockdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	for i := len(s.lockdowns) - 1; i >= 0; i-- {
		if s.lockdowns[i].Applies(agentType) {
			l := s.lockdowns[i]
			return &l, nil
		}
	}
	return nil, nil
}

// ListActiveLockdowns implements lockdown.Repository, newest first.
func (s *Store) ListActiveLockdowns(_ context.Context) ([]domain.Lockdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.Lockdown
	for _, l := range s.lockdowns {
		if l.Status == domain.LockdownActive {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// HasActiveLockdown implements lockdown.Repository.
func (s *Store) HasActiveLockdown(_ context.Context, ruleID, agentType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return false, err
	}
	return s.activeFor(ruleID, agentType), nil
}

func (s *Store) activeFor(ruleID, agentType string) bool {
	for _, l := range s.lockdowns {
		if l.Status == domain.LockdownActive && l.RuleID != nil && *l.RuleID == ruleID && l.AgentType == agentType {
			return true
		}
	}
	return false
}

// CreateLockdown implements lockdown.Repository.
func (s *Store) CreateLockdown(_ context.Context, l *domain.Lockdown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	if l.RuleID != nil && s.activeFor(*l.RuleID, l.AgentType) {
		return lockdown.ErrLockdownExists
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	s.lockdowns = append(s.lockdowns, *l)
	return nil
}

// IncrementTriggerCount implements lockdown.Repository.
func (s *Store) IncrementTriggerCount(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	for i := range s.lockdownRules {
		if s.lockdownRules[i].ID == ruleID {
			s.lockdownRules[i].TriggerCount++
			return nil
		}
	}
	return nil
}

// ResolveLockdown implements lockdown.Repository.
func (s *Store) ResolveLockdown(_ context.Context, id, resolvedBy string, at time.Time) (*domain.Lockdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	for i := range s.lockdowns {
		l := &s.lockdowns[i]
		if l.ID == id && l.Status == domain.LockdownActive {
			t := at
			l.Status = domain.LockdownResolved
			l.ResolvedAt = &t
			l.ResolvedBy = resolvedBy
			out := *l
			return &out, nil
		}
	}
	return nil, lockdown.ErrNotFound
}

// ---------------------------------------------------------------------------
// timewindow.Repository
// ---------------------------------------------------------------------------

// BusinessHours implements timewindow.Repository.
func (s *Store) BusinessHours(_ context.Context) (*domain.BusinessHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	if s.hours == nil {
		return nil, nil
	}
	h := *s.hours
	return &h, nil
}

// ActiveCalendarBlocks implements timewindow.Repository.
func (s *Store) ActiveCalendarBlocks(_ context.Context, at time.Time) ([]domain.CalendarBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failed(); err != nil {
		return nil, err
	}
	var out []domain.CalendarBlock
	for _, b := range s.blocks {
		if b.Contains(at) {
			out = append(out, b)
		}
	}
	return out, nil
}
