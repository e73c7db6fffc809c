package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/roofscope/backend/internal/events"
	"github.com/roofscope/backend/internal/evidence"
	"github.com/roofscope/backend/internal/storage"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/internal/workflow"
)

var testConfig = Config{SkipCredit: 0.5, ConfidenceWarnBelow: 0.6}

// fakeStore is an in-memory Store with a real compare-and-swap on the session
// version. loadBarrier, when set, forces concurrent readers to rendezvous in
// GetSession so both observe the same starting version.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[string]models.InspectionSession
	evidence    map[string][]models.EvidenceAsset
	loadBarrier *sync.WaitGroup
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]models.InspectionSession),
		evidence: make(map[string][]models.EvidenceAsset),
	}
}

func (f *fakeStore) InsertSession(ctx context.Context, session *models.InspectionSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.sessions {
		if existing.PropertyID == session.PropertyID && existing.Status == models.SessionActive {
			return errors.New("unique active session constraint violated")
		}
	}
	f.sessions[session.ID] = cloneSession(*session)
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*models.InspectionSession, error) {
	f.mu.Lock()
	session, ok := f.sessions[id]
	var out models.InspectionSession
	if ok {
		out = cloneSession(session)
	}
	f.mu.Unlock()

	if f.loadBarrier != nil {
		f.loadBarrier.Done()
		f.loadBarrier.Wait()
	}

	if !ok {
		return nil, storage.ErrNotFound
	}
	return &out, nil
}

func (f *fakeStore) GetActiveSessionByProperty(ctx context.Context, propertyID string) (*models.InspectionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, session := range f.sessions {
		if session.PropertyID == propertyID && session.Status == models.SessionActive {
			out := cloneSession(session)
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) UpdateSessionVersioned(ctx context.Context, session *models.InspectionSession, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.sessions[session.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	f.sessions[session.ID] = cloneSession(*session)
	return nil
}

func (f *fakeStore) ListEvidenceForStep(ctx context.Context, sessionID, step string) ([]models.EvidenceAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var assets []models.EvidenceAsset
	for _, asset := range f.evidence[sessionID] {
		if asset.Step == step {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

func (f *fakeStore) ListEvidenceBySession(ctx context.Context, sessionID string) ([]models.EvidenceAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.EvidenceAsset(nil), f.evidence[sessionID]...), nil
}

func (f *fakeStore) InsertEvidence(ctx context.Context, asset *models.EvidenceAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evidence[asset.SessionID] = append(f.evidence[asset.SessionID], *asset)
	return nil
}

func (f *fakeStore) GetEvidence(ctx context.Context, id string) (*models.EvidenceAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, assets := range f.evidence {
		for _, asset := range assets {
			if asset.ID == id {
				out := asset
				return &out, nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) SetEvidenceAnalysis(ctx context.Context, id string, analysis models.AIAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sessionID, assets := range f.evidence {
		for i := range assets {
			if assets[i].ID == id {
				a := analysis
				f.evidence[sessionID][i].Analysis = &a
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) addEvidence(sessionID, step string, analysis *models.AIAnalysis) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evidence[sessionID] = append(f.evidence[sessionID], models.EvidenceAsset{
		ID:         "evidence-" + step,
		SessionID:  sessionID,
		Step:       step,
		Kind:       models.AssetImage,
		ContentRef: "https://cdn.example.com/" + step,
		CapturedAt: time.Now(),
		Analysis:   analysis,
	})
}

func (f *fakeStore) setAnalysisForStep(sessionID, step string, analysis models.AIAnalysis) {
	f.mu.Lock()
	defer f.mu.Unlock()

	assets := f.evidence[sessionID]
	for i := range assets {
		if assets[i].Step == step {
			a := analysis
			assets[i].Analysis = &a
		}
	}
}

// satisfyStep seeds enough analyzed evidence for the session's current step.
func (f *fakeStore) satisfyStep(sessionID string, step workflow.Step) {
	req := workflow.RequirementFor(step)
	count := req.MinEvidenceCount
	if req.AIValidationRequired && count == 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		var analysis *models.AIAnalysis
		if req.AIValidationRequired {
			analysis = &models.AIAnalysis{IsValid: true, Confidence: 0.9, AnalyzedAt: time.Now()}
		}
		f.mu.Lock()
		f.evidence[sessionID] = append(f.evidence[sessionID], models.EvidenceAsset{
			ID:         "evidence-" + string(step) + "-" + string(rune('a'+i)),
			SessionID:  sessionID,
			Step:       string(step),
			Kind:       models.AssetImage,
			ContentRef: "https://cdn.example.com/" + string(step),
			CapturedAt: time.Now(),
			Analysis:   analysis,
		})
		f.mu.Unlock()
	}
}

func cloneSession(s models.InspectionSession) models.InspectionSession {
	s.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	s.Skips = append([]models.SkipRecord(nil), s.Skips...)
	return s
}

type recordingPublisher struct {
	mu       sync.Mutex
	received []events.Event
}

func (p *recordingPublisher) Publish(sessionID string, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, event)
}

func newTestManager(store *fakeStore) *Manager {
	return NewManager(store, &recordingPublisher{}, nil, testConfig)
}

// fakeSnapshotCache stores marshaled snapshots per session the way the redis
// client does, so cache hits reproduce serialization faithfully.
type fakeSnapshotCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	hits    int
}

func newFakeSnapshotCache() *fakeSnapshotCache {
	return &fakeSnapshotCache{entries: make(map[string][]byte)}
}

func (c *fakeSnapshotCache) GetSnapshot(ctx context.Context, sessionID string, snapshot interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.entries[sessionID]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return false, err
	}
	c.hits++
	return true, nil
}

func (c *fakeSnapshotCache) SetSnapshot(ctx context.Context, sessionID string, snapshot interface{}, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = data
	c.sets++
	return nil
}

func (c *fakeSnapshotCache) InvalidateSnapshot(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	return nil
}

// checkCurrentStepInvariant verifies the session points at the first step in
// protocol order that is neither completed nor skipped.
func checkCurrentStepInvariant(t *testing.T, s *models.InspectionSession) {
	t.Helper()

	resolved := map[string]bool{}
	for _, step := range s.CompletedSteps {
		resolved[step] = true
	}
	for _, rec := range s.Skips {
		if resolved[rec.Step] {
			t.Fatalf("step %s is both completed and skipped", rec.Step)
		}
		resolved[rec.Step] = true
	}

	for _, step := range workflow.Steps {
		if !resolved[string(step)] {
			if s.CurrentStep != string(step) {
				t.Fatalf("current step = %s, want first unresolved %s", s.CurrentStep, step)
			}
			return
		}
	}

	if s.CurrentStep != string(workflow.StepCompleted) {
		t.Fatalf("all steps resolved but current step = %s", s.CurrentStep)
	}
	if s.Status != models.SessionCompleted {
		t.Fatalf("all steps resolved but status = %s", s.Status)
	}
}

func TestGetOrCreateActive(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	created, err := manager.GetOrCreateActive(ctx, "property-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.CurrentStep != string(workflow.First()) {
		t.Errorf("new session starts at %s, want %s", created.CurrentStep, workflow.First())
	}
	if created.Status != models.SessionActive {
		t.Errorf("new session status = %s, want active", created.Status)
	}
	if created.Version != 1 {
		t.Errorf("new session version = %d, want 1", created.Version)
	}

	again, err := manager.GetOrCreateActive(ctx, "property-1")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if again.ID != created.ID {
		t.Error("second call created a second active session")
	}

	other, err := manager.GetOrCreateActive(ctx, "property-2")
	if err != nil {
		t.Fatalf("other property: %v", err)
	}
	if other.ID == created.ID {
		t.Error("sessions must be scoped per property")
	}
}

// Scenario A: first step needs one evidence item and no AI validation.
func TestAdvanceWithSufficientEvidence(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.addEvidence(sess.ID, string(workflow.StepWeatherVerification), nil)

	updated, err := manager.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if updated.CurrentStep != string(workflow.StepThermalImaging) {
		t.Errorf("current step = %s, want %s", updated.CurrentStep, workflow.StepThermalImaging)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if updated.Score == 0 {
		t.Error("score should increase after a completed step")
	}
	checkCurrentStepInvariant(t, updated)
}

// Scenario B: blocked on evidence count, then unblocked by a second item.
func TestAdvanceBlockedOnEvidenceCount(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.addEvidence(sess.ID, string(workflow.StepWeatherVerification), nil)
	if _, err := manager.Advance(ctx, sess.ID); err != nil {
		t.Fatalf("advance to thermal-imaging: %v", err)
	}

	// thermal-imaging needs two items plus a positive verdict.
	verdict := &models.AIAnalysis{IsValid: true, Confidence: 0.9, AnalyzedAt: time.Now()}
	store.addEvidence(sess.ID, string(workflow.StepThermalImaging), verdict)

	_, err := manager.Advance(ctx, sess.ID)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if !hasBlocker(blocked, workflow.CodeInsufficientEvidence) {
		t.Errorf("expected %s blocker, got %v", workflow.CodeInsufficientEvidence, blocked.Result.Blockers)
	}

	// Blocked advance must not mutate the session.
	fresh, _ := store.GetSession(ctx, sess.ID)
	if fresh.Version != 2 || fresh.CurrentStep != string(workflow.StepThermalImaging) {
		t.Error("blocked advance mutated session state")
	}

	store.addEvidence(sess.ID, string(workflow.StepThermalImaging), verdict)
	updated, err := manager.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("advance after second item: %v", err)
	}
	if updated.CurrentStep != string(workflow.StepGroundWalk) {
		t.Errorf("current step = %s, want %s", updated.CurrentStep, workflow.StepGroundWalk)
	}
}

// Scenario C: blocked while analysis is pending, unblocked when it lands.
func TestAdvanceBlockedOnPendingAnalysis(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.addEvidence(sess.ID, string(workflow.StepWeatherVerification), nil)
	if _, err := manager.Advance(ctx, sess.ID); err != nil {
		t.Fatalf("advance to thermal-imaging: %v", err)
	}

	store.addEvidence(sess.ID, string(workflow.StepThermalImaging), nil)
	store.addEvidence(sess.ID, string(workflow.StepThermalImaging), nil)

	_, err := manager.Advance(ctx, sess.ID)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if !hasBlocker(blocked, workflow.CodeAIValidationMissing) {
		t.Errorf("expected %s blocker, got %v", workflow.CodeAIValidationMissing, blocked.Result.Blockers)
	}

	store.setAnalysisForStep(sess.ID, string(workflow.StepThermalImaging),
		models.AIAnalysis{IsValid: true, Confidence: 0.9, AnalyzedAt: time.Now()})

	updated, err := manager.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("advance after analysis landed: %v", err)
	}
	checkCurrentStepInvariant(t, updated)
}

// Scenario D: ground-walk forbids skipping.
func TestSkipNotAllowed(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.satisfyStep(sess.ID, workflow.StepWeatherVerification)
	store.satisfyStep(sess.ID, workflow.StepThermalImaging)
	mustAdvance(t, manager, sess.ID)
	mustAdvance(t, manager, sess.ID)

	_, err := manager.Skip(ctx, sess.ID, "weather unavailable")
	if !errors.Is(err, ErrSkipNotAllowed) {
		t.Fatalf("expected ErrSkipNotAllowed, got %v", err)
	}
}

func TestSkipInvalidReason(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")

	// weather-verification is skippable, but only for its registered reasons.
	_, err := manager.Skip(ctx, sess.ID, "felt like it")
	if !errors.Is(err, ErrInvalidSkipReason) {
		t.Fatalf("expected ErrInvalidSkipReason, got %v", err)
	}

	updated, err := manager.Skip(ctx, sess.ID, "weather_data_unavailable")
	if err != nil {
		t.Fatalf("valid skip: %v", err)
	}
	if len(updated.Skips) != 1 || updated.Skips[0].Reason != "weather_data_unavailable" {
		t.Errorf("skip record = %+v", updated.Skips)
	}
	checkCurrentStepInvariant(t, updated)
}

// Scenario E: advancing past the final step completes the session for good.
func TestSessionCompletion(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	for _, step := range workflow.Steps {
		store.satisfyStep(sess.ID, step)
		mustAdvance(t, manager, sess.ID)
	}

	final, _ := store.GetSession(ctx, sess.ID)
	if final.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.CurrentStep != string(workflow.StepCompleted) {
		t.Errorf("current step = %s, want terminal marker", final.CurrentStep)
	}
	if final.CompletedAt == nil {
		t.Error("completed session missing completion timestamp")
	}
	if final.Score != 100 {
		t.Errorf("fully completed score = %d, want 100", final.Score)
	}

	if _, err := manager.Advance(ctx, sess.ID); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("advance on completed session: got %v, want ErrSessionCompleted", err)
	}
	if _, err := manager.Skip(ctx, sess.ID, "weather_data_unavailable"); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("skip on completed session: got %v, want ErrSessionCompleted", err)
	}
}

func TestSkipEarnsLessThanCompletion(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	skipped, err := manager.Skip(ctx, sess.ID, "weather_data_unavailable")
	if err != nil {
		t.Fatalf("skip: %v", err)
	}

	store2 := newFakeStore()
	manager2 := newTestManager(store2)
	sess2, _ := manager2.GetOrCreateActive(ctx, "property-1")
	store2.satisfyStep(sess2.ID, workflow.StepWeatherVerification)
	completed, err := manager2.Advance(ctx, sess2.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	if skipped.Score >= completed.Score {
		t.Errorf("skipped score %d should be below completed score %d", skipped.Score, completed.Score)
	}
}

// Two advances loaded from the same starting version: exactly one wins, the
// other observes the version conflict.
func TestConcurrentAdvance(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.satisfyStep(sess.ID, workflow.StepWeatherVerification)

	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	store.loadBarrier = barrier

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := manager.Advance(ctx, sess.ID)
			results <- err
		}()
	}

	var successes, conflicts int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, storage.ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly 1 of each", successes, conflicts)
	}

	store.loadBarrier = nil
	final, _ := store.GetSession(ctx, sess.ID)
	if final.CurrentStep != string(workflow.StepThermalImaging) {
		t.Errorf("session advanced %d steps, want exactly one", len(final.CompletedSteps))
	}
}

// Random advance/skip walks must preserve the current-step invariant at every
// intermediate state.
func TestRandomizedSequencesPreserveInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for trial := 0; trial < 50; trial++ {
		store := newFakeStore()
		manager := newTestManager(store)
		sess, _ := manager.GetOrCreateActive(ctx, "property-1")

		for {
			current, _ := store.GetSession(ctx, sess.ID)
			if current.Status != models.SessionActive {
				break
			}

			step := workflow.Step(current.CurrentStep)
			req := workflow.RequirementFor(step)

			if req.Skippable && rng.Intn(2) == 0 {
				reason := req.SkipReasons[rng.Intn(len(req.SkipReasons))]
				updated, err := manager.Skip(ctx, sess.ID, reason)
				if err != nil {
					t.Fatalf("trial %d: skip %s: %v", trial, step, err)
				}
				checkCurrentStepInvariant(t, updated)
				continue
			}

			store.satisfyStep(sess.ID, step)
			updated, err := manager.Advance(ctx, sess.ID)
			if err != nil {
				t.Fatalf("trial %d: advance %s: %v", trial, step, err)
			}
			checkCurrentStepInvariant(t, updated)

			prev := workflow.Score(*current, testConfig.SkipCredit).Score
			if updated.Score < prev {
				t.Fatalf("trial %d: score decreased %d -> %d", trial, prev, updated.Score)
			}
		}
	}
}

func TestSnapshot(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(store)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.addEvidence(sess.ID, string(workflow.StepWeatherVerification), nil)

	snapshot, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snapshot.Session.ID != sess.ID {
		t.Error("snapshot carries wrong session")
	}
	if len(snapshot.EvidenceByStep[string(workflow.StepWeatherVerification)]) != 1 {
		t.Error("snapshot missing attached evidence")
	}
	if snapshot.Completeness.Score != 0 {
		t.Errorf("fresh snapshot score = %d, want 0", snapshot.Completeness.Score)
	}
	if snapshot.Validation == nil {
		t.Fatal("active session snapshot should include a validation preview")
	}
	if !snapshot.Validation.CanAdvance {
		t.Error("weather-verification with one item should be advanceable")
	}

	if _, err := manager.Snapshot(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown session: got %v, want ErrNotFound", err)
	}
}

// Evidence writes leave the session version untouched, so without explicit
// invalidation a cached snapshot would keep hiding fresh evidence for its
// whole TTL while Advance already succeeds.
func TestSnapshotReflectsEvidenceWrites(t *testing.T) {
	store := newFakeStore()
	cache := newFakeSnapshotCache()
	manager := NewManager(store, &recordingPublisher{}, cache, testConfig)
	evidenceStore := evidence.NewStore(store, nil, nil, cache)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")

	before, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if before.Validation == nil || before.Validation.CanAdvance {
		t.Fatal("empty weather-verification step should block advance")
	}

	asset, err := evidenceStore.Attach(ctx, sess.ID, workflow.StepWeatherVerification,
		models.AssetImage, "https://cdn.example.com/sky.jpg", nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	after, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot after attach: %v", err)
	}
	if len(after.EvidenceByStep[string(workflow.StepWeatherVerification)]) != 1 {
		t.Error("snapshot hides the attached evidence")
	}
	if after.Validation == nil || !after.Validation.CanAdvance {
		t.Error("validation preview still reports blocked, but advance would succeed")
	}
	if _, err := manager.Advance(ctx, sess.ID); err != nil {
		t.Errorf("advance disagrees with the snapshot preview: %v", err)
	}

	// A verdict landing is also an evidence write the snapshot must pick up.
	if _, err := evidenceStore.RecordAnalysis(ctx, asset.ID,
		models.AIAnalysis{IsValid: true, Confidence: 0.9}); err != nil {
		t.Fatalf("record analysis: %v", err)
	}
	withVerdict, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot after verdict: %v", err)
	}
	analyzed := withVerdict.EvidenceByStep[string(workflow.StepWeatherVerification)]
	if len(analyzed) != 1 || analyzed[0].Analysis == nil {
		t.Error("snapshot hides the recorded verdict")
	}
}

func TestSnapshotServedFromCache(t *testing.T) {
	store := newFakeStore()
	cache := newFakeSnapshotCache()
	manager := NewManager(store, &recordingPublisher{}, cache, testConfig)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.addEvidence(sess.ID, string(workflow.StepWeatherVerification), nil)

	first, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	second, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("cached snapshot: %v", err)
	}

	if cache.sets != 1 || cache.hits != 1 {
		t.Errorf("cache sets = %d, hits = %d, want one of each", cache.sets, cache.hits)
	}
	if second.Session.ID != first.Session.ID || second.Session.Version != first.Session.Version {
		t.Error("cached snapshot does not match the composed one")
	}
}

func TestTransitionInvalidatesSnapshot(t *testing.T) {
	store := newFakeStore()
	cache := newFakeSnapshotCache()
	manager := NewManager(store, &recordingPublisher{}, cache, testConfig)
	ctx := context.Background()

	sess, _ := manager.GetOrCreateActive(ctx, "property-1")
	store.satisfyStep(sess.ID, workflow.StepWeatherVerification)

	if _, err := manager.Snapshot(ctx, sess.ID); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := manager.Advance(ctx, sess.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	fresh, err := manager.Snapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot after advance: %v", err)
	}
	if fresh.Session.CurrentStep != string(workflow.StepThermalImaging) {
		t.Errorf("snapshot current step = %s, want %s after the transition",
			fresh.Session.CurrentStep, workflow.StepThermalImaging)
	}
}

func hasBlocker(blocked *BlockedError, code string) bool {
	for _, issue := range blocked.Result.Blockers {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func mustAdvance(t *testing.T, manager *Manager, sessionID string) {
	t.Helper()
	if _, err := manager.Advance(context.Background(), sessionID); err != nil {
		t.Fatalf("advance: %v", err)
	}
}
