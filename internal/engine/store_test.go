package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// memoryStore is an in-memory domain.Store with failure injection.
type memoryStore struct {
	mu         sync.Mutex
	profiles   map[string]*domain.BehaviorProfile
	identities map[string]map[string]bool // field:value -> users
	devices    map[string]map[string]time.Time
	rules      map[string]*domain.Rule
	cases      map[string]*domain.DetectionCase

	profileReadErr error
	lookupErr      error
	caseSaveErr    error

	// conflicts makes the next n SaveProfile calls fail with ErrVersionConflict.
	conflicts int
	saves     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		profiles:   make(map[string]*domain.BehaviorProfile),
		identities: make(map[string]map[string]bool),
		devices:    make(map[string]map[string]time.Time),
		rules:      make(map[string]*domain.Rule),
		cases:      make(map[string]*domain.DetectionCase),
	}
}

func profileID(userID string, c domain.Category) string { return string(c) + ":" + userID }

func (m *memoryStore) GetProfile(ctx context.Context, userID string, c domain.Category) (*domain.BehaviorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profileReadErr != nil {
		return nil, m.profileReadErr
	}
	p, ok := m.profiles[profileID(userID, c)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *memoryStore) SaveProfile(ctx context.Context, p *domain.BehaviorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrVersionConflict
	}
	key := profileID(p.UserID, p.Category)
	current, ok := m.profiles[key]
	switch {
	case !ok && p.Version != 0:
		return domain.ErrVersionConflict
	case ok && current.Version != p.Version:
		return domain.ErrVersionConflict
	}
	p.Version++
	m.profiles[key] = p.Clone()
	return nil
}

// put seeds a stored profile.
func (m *memoryStore) put(p *domain.BehaviorProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profileID(p.UserID, p.Category)] = p.Clone()
}

func (m *memoryStore) profile(userID string, c domain.Category) *domain.BehaviorProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[profileID(userID, c)]
}

func (m *memoryStore) FindDuplicateIdentity(ctx context.Context, field, value, exclude string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	var out []string
	for u := range m.identities[field+":"+value] {
		if u != exclude {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) RecordIdentity(ctx context.Context, userID, field, value string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := field + ":" + value
	if m.identities[key] == nil {
		m.identities[key] = make(map[string]bool)
	}
	m.identities[key][userID] = true
	return nil
}

func (m *memoryStore) CountAccountsByDevice(ctx context.Context, fp, exclude string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return 0, m.lookupErr
	}
	n := 0
	for user, seen := range m.devices[fp] {
		if user != exclude && !seen.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) RecordDevice(ctx context.Context, fp, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devices[fp] == nil {
		m.devices[fp] = make(map[string]time.Time)
	}
	m.devices[fp][userID] = at
	return nil
}

func (m *memoryStore) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	all, _ := m.ListRules(ctx)
	var out []*domain.Rule
	for _, r := range all {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Rule
	for _, r := range m.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memoryStore) SaveRule(ctx context.Context, r *domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version <= 0 {
		r.Version = 1
	}
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *memoryStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Active = active
	r.Version++
	return nil
}

func (m *memoryStore) SaveDetectionCase(ctx context.Context, c *domain.DetectionCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caseSaveErr != nil {
		return m.caseSaveErr
	}
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}

func (m *memoryStore) GetDetectionCase(ctx context.Context, id string) (*domain.DetectionCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) ListDetectionCases(ctx context.Context, f domain.CaseFilter) ([]*domain.DetectionCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DetectionCase
	for _, c := range m.cases {
		if (f.Status == "" || c.Status == f.Status) && (f.SubjectID == "" || c.SubjectID == f.SubjectID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateCaseStatus(ctx context.Context, id string, from, to domain.CaseStatus, reviewer, notes string, at time.Time) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status != from {
		return domain.ErrInvalidTransition
	}
	c.Status, c.ReviewerID, c.Notes, c.UpdatedAt = to, reviewer, notes, at
	return nil
}

func (m *memoryStore) CountDetectionsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return 0, m.lookupErr
	}
	n := 0
	for _, c := range m.cases {
		if c.SourceIP == ip && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) caseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cases)
}

func (m *memoryStore) Ping(ctx context.Context) error { return nil }
func (m *memoryStore) Close() error                   { return nil }

var _ domain.Store = (*memoryStore)(nil)

var errStoreDown = errors.New("connection refused")

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	reviewers []*domain.DetectionCase
	users     map[string]string
	ops       []*domain.OperationalAlert
}

func (n *recordingNotifier) NotifyReviewers(ctx context.Context, c *domain.DetectionCase) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reviewers = append(n.reviewers, c)
	return nil
}

func (n *recordingNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.users == nil {
		n.users = make(map[string]string)
	}
	n.users[userID] = message
	return nil
}

func (n *recordingNotifier) NotifyOperations(ctx context.Context, a *domain.OperationalAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, a)
	return nil
}
