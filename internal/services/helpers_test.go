package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// In-memory fakes for the store and side-effect contracts
// ---------------------------------------------------------------------------

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testTime }

var testExecCtx = ExecutionContext{OrganizationID: "org-1", EnvironmentID: "env-1"}

type fakeKeyStore struct {
	keys      map[string]*models.APIKey
	seq       int
	createErr error
	updateErr error
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[string]*models.APIKey)}
}

func (s *fakeKeyStore) add(key *models.APIKey) *models.APIKey {
	s.seq++
	if key.ID == "" {
		key.ID = fmt.Sprintf("key-%d", s.seq)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = testTime.Add(time.Duration(s.seq) * time.Second)
	}
	s.keys[key.ID] = key
	return key
}

func (s *fakeKeyStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.add(key)
	return nil
}

func (s *fakeKeyStore) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.keys[key.ID] = key
	return nil
}

func (s *fakeKeyStore) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	return s.keys[keyID], nil
}

func (s *fakeKeyStore) GetAPIKeyByKeyAndAPI(ctx context.Context, keyValue, apiID string) (*models.APIKey, error) {
	for _, key := range s.keys {
		if key.Key == keyValue && key.APIID == apiID {
			return key, nil
		}
	}
	return nil, nil
}

func (s *fakeKeyStore) ListAPIKeysByKey(ctx context.Context, keyValue string) ([]*models.APIKey, error) {
	out := make([]*models.APIKey, 0)
	for _, key := range s.keys {
		if key.Key == keyValue {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *fakeKeyStore) ListAPIKeysBySubscription(ctx context.Context, subscriptionID string) ([]*models.APIKey, error) {
	out := make([]*models.APIKey, 0)
	for _, key := range s.keys {
		if key.SubscriptionID == subscriptionID {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fakeSubStore struct {
	subs      map[string]*models.Subscription
	seq       int
	createErr error
	updateErr error
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: make(map[string]*models.Subscription)}
}

func (s *fakeSubStore) add(sub *models.Subscription) *models.Subscription {
	s.seq++
	if sub.ID == "" {
		sub.ID = fmt.Sprintf("sub-%d", s.seq)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = testTime.Add(time.Duration(s.seq) * time.Second)
	}
	s.subs[sub.ID] = sub
	return sub
}

func (s *fakeSubStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.add(sub)
	return nil
}

func (s *fakeSubStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.subs[sub.ID] = sub
	return nil
}

func (s *fakeSubStore) GetSubscriptionByID(ctx context.Context, subID string) (*models.Subscription, error) {
	return s.subs[subID], nil
}

func (s *fakeSubStore) ListByApplicationAndAPI(ctx context.Context, appID, apiID string) ([]*models.Subscription, error) {
	out := make([]*models.Subscription, 0)
	for _, sub := range s.subs {
		if sub.ApplicationID == appID && sub.APIID == apiID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakeSubStore) Search(ctx context.Context, filters repositories.SubscriptionFilters) ([]*models.Subscription, error) {
	out := make([]*models.Subscription, 0)
	for _, sub := range s.subs {
		if len(filters.APIIDs) > 0 && !containsString(filters.APIIDs, sub.APIID) {
			continue
		}
		if len(filters.ApplicationIDs) > 0 && !containsString(filters.ApplicationIDs, sub.ApplicationID) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakePlanReader struct {
	plans map[string]*models.Plan
}

func (r *fakePlanReader) GetPlanByID(ctx context.Context, planID string) (*models.Plan, error) {
	return r.plans[planID], nil
}

type fakeAppReader struct {
	apps map[string]*models.Application
}

func (r *fakeAppReader) GetApplicationByID(ctx context.Context, appID string) (*models.Application, error) {
	return r.apps[appID], nil
}

type fakePageReader struct {
	pages map[string]*models.Page
}

func (r *fakePageReader) GetPageByID(ctx context.Context, pageID string) (*models.Page, error) {
	return r.pages[pageID], nil
}

type fakeGroups struct {
	byUser map[string][]string
}

func (g *fakeGroups) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	return g.byUser[userID], nil
}

type triggeredHook struct {
	hook      string
	subjectID string
	props     map[string]string
}

type fakeNotifier struct {
	hooks []triggeredHook
}

func (n *fakeNotifier) Trigger(ctx context.Context, execCtx ExecutionContext, hook, subjectID string, properties map[string]string) {
	n.hooks = append(n.hooks, triggeredHook{hook: hook, subjectID: subjectID, props: properties})
}

func (n *fakeNotifier) fired(hook string) bool {
	for _, h := range n.hooks {
		if h.hook == hook {
			return true
		}
	}
	return false
}

type fakeAudit struct {
	entries []AuditEntry
}

func (a *fakeAudit) Record(ctx context.Context, execCtx ExecutionContext, entry AuditEntry) {
	a.entries = append(a.entries, entry)
}

func (a *fakeAudit) recorded(event string) bool {
	for _, e := range a.entries {
		if e.Event == event {
			return true
		}
	}
	return false
}

// staticKeyGenerator returns a fixed sequence of values.
type staticKeyGenerator struct {
	values []string
	next   int
}

func (g *staticKeyGenerator) Generate() string {
	if g.next >= len(g.values) {
		return fmt.Sprintf("gw_generated-%d", g.next)
	}
	v := g.values[g.next]
	g.next++
	return v
}
