package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

func setupTestDB(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "hostdeck-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func createTestTarget(t *testing.T, store *SQLiteStorage, name string) *models.Target {
	t.Helper()
	target := models.NewTarget(name, "git@github.com:acme/"+name+".git", "main", "/var/www/"+name)
	target.SecretToken = "secret-" + name
	if err := store.Targets().Create(context.Background(), target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	return target
}

func TestSQLiteStorage_Migrate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tables := []string{"targets", "credentials", "deployments", "alert_rules", "alerts",
		"metrics", "jobs", "failed_jobs", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	// Running again is a no-op.
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestTargetRepository_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	target := createTestTarget(t, store, "shop")
	if target.ID == "" {
		t.Fatal("create should assign an id")
	}

	got, err := store.Targets().GetByID(ctx, target.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if got == nil {
		t.Fatal("target should exist")
	}
	if got.SecretToken != "secret-shop" {
		t.Errorf("secret token = %q, want %q", got.SecretToken, "secret-shop")
	}
	if got.LastDeployedAt != nil {
		t.Error("last deployed should be nil")
	}

	got.Branch = "release"
	got.DeployUser = "www-data"
	got.UpdatedAt = time.Now()
	if err := store.Targets().Update(ctx, got); err != nil {
		t.Fatalf("update target: %v", err)
	}

	byName, err := store.Targets().GetByName(ctx, "shop")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if byName.Branch != "release" || byName.DeployUser != "www-data" {
		t.Errorf("update not persisted: branch=%q user=%q", byName.Branch, byName.DeployUser)
	}

	if err := store.Targets().SetActive(ctx, target.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	deployedAt := time.Now().Truncate(time.Second)
	if err := store.Targets().MarkDeployed(ctx, target.ID, deployedAt); err != nil {
		t.Fatalf("mark deployed: %v", err)
	}
	got, _ = store.Targets().GetByID(ctx, target.ID)
	if got.IsActive {
		t.Error("target should be inactive")
	}
	if got.LastDeployedAt == nil || !got.LastDeployedAt.Equal(deployedAt) {
		t.Errorf("last deployed = %v, want %v", got.LastDeployedAt, deployedAt)
	}

	list, err := store.Targets().List(ctx)
	if err != nil {
		t.Fatalf("list targets: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list len = %d, want 1", len(list))
	}

	if err := store.Targets().Delete(ctx, target.ID); err != nil {
		t.Fatalf("delete target: %v", err)
	}
	got, err = store.Targets().GetByID(ctx, target.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("target should be deleted")
	}
	if err := store.Targets().Delete(ctx, target.ID); err == nil {
		t.Error("deleting a missing target should fail")
	}
}

func TestCredentialRepository_Replace(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	target := createTestTarget(t, store, "api")

	first := &models.Credential{
		TargetID:            target.ID,
		KeyType:             models.KeyTypeEd25519,
		PublicKey:           "ssh-ed25519 AAAAfirst deploy",
		Fingerprint:         "first",
		PrivateKeyEncrypted: []byte("cipher-1"),
		CreatedAt:           time.Now(),
	}
	if err := store.Credentials().Replace(ctx, first); err != nil {
		t.Fatalf("replace first: %v", err)
	}

	second := &models.Credential{
		TargetID:            target.ID,
		KeyType:             models.KeyTypeEd25519,
		PublicKey:           "ssh-ed25519 AAAAsecond deploy",
		Fingerprint:         "second",
		PrivateKeyEncrypted: []byte("cipher-2"),
		CreatedAt:           time.Now(),
	}
	if err := store.Credentials().Replace(ctx, second); err != nil {
		t.Fatalf("replace second: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM credentials WHERE target_id = ?", target.ID).Scan(&count); err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	if count != 1 {
		t.Errorf("credential count = %d, want 1", count)
	}

	got, err := store.Credentials().GetByTarget(ctx, target.ID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.Fingerprint != "second" || string(got.PrivateKeyEncrypted) != "cipher-2" {
		t.Errorf("credential = %+v, want the second key", got)
	}

	// Deleting the target cascades.
	if err := store.Targets().Delete(ctx, target.ID); err != nil {
		t.Fatalf("delete target: %v", err)
	}
	got, err = store.Credentials().GetByTarget(ctx, target.ID)
	if err != nil {
		t.Fatalf("get credential after delete: %v", err)
	}
	if got != nil {
		t.Error("credential should cascade with its target")
	}
}

func TestDeploymentRepository_Lifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	target := createTestTarget(t, store, "blog")
	hash := "abc123"
	run := models.NewDeploymentRun(target.ID, models.CommitInfo{Hash: &hash}, time.Now())
	if err := store.Deployments().Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := store.Deployments().AttachOutput(ctx, run.ID, "Cloning repository..."); err != nil {
		t.Fatalf("attach output: %v", err)
	}

	now := time.Now()
	run.Status = models.DeploymentCompleted
	run.Output = "Cloning repository...\n\n✓ Deployment completed successfully!"
	run.CompletedAt = &now
	if err := store.Deployments().Finalize(ctx, run); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Terminal runs are immutable.
	run.Status = models.DeploymentFailed
	if err := store.Deployments().Finalize(ctx, run); err == nil {
		t.Error("finalizing a terminal run should fail")
	}
	if err := store.Deployments().AttachOutput(ctx, run.ID, "late"); err == nil {
		t.Error("attaching output to a terminal run should fail")
	}

	got, err := store.Deployments().GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.DeploymentCompleted {
		t.Errorf("status = %v, want %v", got.Status, models.DeploymentCompleted)
	}
	if got.CommitHash == nil || *got.CommitHash != "abc123" {
		t.Errorf("commit hash = %v, want abc123", got.CommitHash)
	}
	if got.Author != nil {
		t.Errorf("author = %v, want nil", *got.Author)
	}
	if got.CompletedAt == nil {
		t.Error("completed at should be set")
	}

	runs, err := store.Deployments().ListByTarget(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}
}

func TestDeploymentRepository_FinalizeRequiresTerminal(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	target := createTestTarget(t, store, "docs")
	run := models.NewDeploymentRun(target.ID, models.CommitInfo{}, time.Now())
	if err := store.Deployments().Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.Deployments().Finalize(ctx, run); err == nil {
		t.Error("finalize with processing status should fail")
	}
}

func TestAlertRepository_Dedup(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rule := models.NewAlertRule("High CPU", models.MetricCPU, ">", 80)
	if err := store.AlertRules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	t0 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	alert := &models.Alert{
		RuleID:    rule.ID,
		Title:     "Alert: High CPU",
		Message:   "cpu is 91.00% (threshold: 80.00%)",
		Severity:  models.SeverityWarning,
		Value:     91,
		CreatedAt: t0,
	}
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	tests := []struct {
		name  string
		since time.Time
		want  bool
	}{
		{"window covers alert", t0.Add(-4 * time.Minute), true},
		{"window starts at alert", t0, true},
		{"window after alert", t0.Add(time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Alerts().HasUnresolvedSince(ctx, rule.ID, tt.since)
			if err != nil {
				t.Fatalf("has unresolved: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasUnresolvedSince() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := store.Alerts().Resolve(ctx, alert.ID, t0.Add(time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := store.Alerts().HasUnresolvedSince(ctx, rule.ID, t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("has unresolved: %v", err)
	}
	if got {
		t.Error("resolved alerts should not suppress new ones")
	}
	if err := store.Alerts().Resolve(ctx, alert.ID, t0); err == nil {
		t.Error("resolving twice should fail")
	}

	if err := store.Alerts().MarkNotified(ctx, alert.ID, true); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	stored, _ := store.Alerts().GetByID(ctx, alert.ID)
	if !stored.NotificationSent || !stored.IsResolved {
		t.Errorf("alert = %+v, want notified and resolved", stored)
	}
}

func TestAlertRuleRepository_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rule := models.NewAlertRule("nginx down", models.MetricService, "==", 0)
	rule.ServiceName = "nginx"
	rule.Channel = models.ChannelBoth
	rule.SlackWebhookURL = "https://hooks.slack.com/services/x"
	if err := store.AlertRules().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	got, err := store.AlertRules().GetByName(ctx, "nginx down")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.ServiceName != "nginx" || got.Channel != models.ChannelBoth {
		t.Errorf("rule = %+v", got)
	}

	if err := store.AlertRules().SetActive(ctx, rule.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	active, err := store.AlertRules().ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active rules = %d, want 0", len(active))
	}

	if err := store.AlertRules().MarkTriggered(ctx, rule.ID, time.Now()); err != nil {
		t.Fatalf("mark triggered: %v", err)
	}
	got, _ = store.AlertRules().GetByID(ctx, rule.ID)
	if got.LastTriggeredAt == nil {
		t.Error("last triggered should be set")
	}

	if err := store.AlertRules().Delete(ctx, rule.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if err := store.AlertRules().Delete(ctx, rule.ID); err == nil {
		t.Error("deleting a missing rule should fail")
	}
}

func TestMetricRepository_Retention(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour, 0} {
		sample := &models.MetricSample{
			CPUUsage:    float64(10 * (i + 1)),
			MemoryTotal: 8 << 30,
			RecordedAt:  now.Add(-age),
		}
		if err := store.Metrics().Record(ctx, sample); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	latest, err := store.Metrics().Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.CPUUsage != 40 {
		t.Errorf("latest cpu = %v, want 40", latest.CPUUsage)
	}
	if latest.MemoryTotal != 8<<30 {
		t.Errorf("memory total = %d, want %d", latest.MemoryTotal, uint64(8<<30))
	}

	deleted, err := store.Metrics().DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	recent, err := store.Metrics().Recent(ctx, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent = %d, want 2", len(recent))
	}
}

func TestJobRepository_Reserve(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	jobs := store.Jobs()

	now := time.Now()
	firstID, err := jobs.Push(ctx, "default", []byte(`{"job":"first"}`), 0, now)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := jobs.Push(ctx, "default", []byte(`{"job":"later"}`), 0, now.Add(time.Hour)); err != nil {
		t.Fatalf("push delayed: %v", err)
	}

	job, err := jobs.Reserve(ctx, "default", now, 90*time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if job.ReservedAt == nil {
		t.Error("reserved_at should be set")
	}

	// Delayed job is not available and the first is reserved.
	again, err := jobs.Reserve(ctx, "default", now, 90*time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("reserve again: %v", err)
	}
	if again != nil {
		t.Errorf("reserve again = %+v, want nil", again)
	}

	// A stale reservation is leased again.
	later := now.Add(2 * time.Minute)
	stale, err := jobs.Reserve(ctx, "default", later, 90*time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	if stale == nil || stale.Attempts != 2 {
		t.Fatalf("stale job = %+v, want attempts 2", stale)
	}

	if err := jobs.Release(ctx, firstID, later.Add(time.Minute)); err != nil {
		t.Fatalf("release: %v", err)
	}
	counts, err := jobs.CountByQueue(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["default"] != 2 {
		t.Errorf("count = %d, want 2", counts["default"])
	}

	ok, err := jobs.Delete(ctx, firstID)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	ok, _ = jobs.Delete(ctx, firstID)
	if ok {
		t.Error("second delete should report false")
	}
}

func TestJobRepository_ReserveHonorsPayloadTimeout(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	jobs := store.Jobs()

	now := time.Now()
	if _, err := jobs.Push(ctx, "deployments", []byte(`{"job":"deploy","timeout":600}`), 0, now); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := jobs.Push(ctx, "default", []byte(`not json`), 0, now); err != nil {
		t.Fatalf("push raw: %v", err)
	}

	if job, err := jobs.Reserve(ctx, "deployments", now, 90*time.Second, 30*time.Second); err != nil || job == nil {
		t.Fatalf("reserve = %v, %v", job, err)
	}

	// Past retry_after but inside timeout + grace: still leased.
	for _, after := range []time.Duration{2 * time.Minute, 10 * time.Minute, 629 * time.Second} {
		again, err := jobs.Reserve(ctx, "deployments", now.Add(after), 90*time.Second, 30*time.Second)
		if err != nil {
			t.Fatalf("reserve after %v: %v", after, err)
		}
		if again != nil {
			t.Fatalf("job re-leased after %v while its timeout had not elapsed", after)
		}
	}

	stale, err := jobs.Reserve(ctx, "deployments", now.Add(631*time.Second), 90*time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	if stale == nil || stale.Attempts != 2 {
		t.Fatalf("stale job = %+v, want attempts 2", stale)
	}

	// A payload that is not JSON falls back to minLease.
	if job, err := jobs.Reserve(ctx, "default", now, 90*time.Second, 30*time.Second); err != nil || job == nil {
		t.Fatalf("reserve raw = %v, %v", job, err)
	}
	if job, err := jobs.Reserve(ctx, "default", now.Add(91*time.Second), 90*time.Second, 30*time.Second); err != nil || job == nil {
		t.Fatalf("reserve raw stale = %v, %v", job, err)
	}
}

func TestJobRepository_ConcurrentReserve(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 20; i++ {
		if _, err := store.Jobs().Push(ctx, "default", []byte(`{}`), 0, now); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.Jobs().Reserve(ctx, "default", now, time.Hour, 30*time.Second)
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("leased %d distinct jobs, want 20", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s leased %d times", id, n)
		}
	}
}

func TestFailedJobRepository(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	failed := store.FailedJobs()

	old := &models.FailedJob{
		UUID:       uuid.New().String(),
		Connection: "database",
		Queue:      "default",
		Payload:    []byte(`{"job":"old"}`),
		Exception:  "boom",
		FailedAt:   time.Now().Add(-48 * time.Hour),
	}
	fresh := &models.FailedJob{
		UUID:       uuid.New().String(),
		Connection: "database",
		Queue:      "deployments",
		Payload:    []byte(`{"job":"fresh"}`),
		Exception:  "bang",
	}
	for _, j := range []*models.FailedJob{old, fresh} {
		if err := failed.Create(ctx, j); err != nil {
			t.Fatalf("create failed job: %v", err)
		}
	}

	total, _ := failed.Count(ctx)
	recent, _ := failed.CountSince(ctx, time.Now().Add(-24*time.Hour))
	if total != 2 || recent != 1 {
		t.Errorf("count = %d recent = %d, want 2 and 1", total, recent)
	}

	got, err := failed.GetByUUID(ctx, fresh.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Exception != "bang" || string(got.Payload) != `{"job":"fresh"}` {
		t.Errorf("failed job = %+v", got)
	}

	ok, _ := failed.Delete(ctx, fresh.UUID)
	if !ok {
		t.Error("delete should report true")
	}
	n, err := failed.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}
}
