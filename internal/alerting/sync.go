package alerting

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// reloadDelay coalesces the bursts of events editors produce on save.
const reloadDelay = 250 * time.Millisecond

// RuleSync upserts rules from a YAML file into the rule repository.
// Rules are matched by name. Rules absent from the file are left alone so
// that rules created over the API survive a reload.
type RuleSync struct {
	rules storage.AlertRuleRepository
	path  string
}

// NewRuleSync creates a RuleSync for the given rules file.
func NewRuleSync(rules storage.AlertRuleRepository, path string) *RuleSync {
	return &RuleSync{rules: rules, path: filepath.Clean(path)}
}

// SyncResult counts the changes made by a sync.
type SyncResult struct {
	Created int
	Updated int
}

// Sync loads the rules file and upserts every rule in it.
func (s *RuleSync) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	loaded, err := LoadRulesFromFile(s.path)
	if err != nil {
		return res, err
	}

	for _, rule := range loaded {
		existing, err := s.rules.GetByName(ctx, rule.Name)
		if err != nil {
			return res, fmt.Errorf("get rule %s: %w", rule.Name, err)
		}
		if existing == nil {
			if err := s.rules.Create(ctx, rule); err != nil {
				return res, fmt.Errorf("create rule %s: %w", rule.Name, err)
			}
			res.Created++
			continue
		}
		if sameDefinition(existing, rule) {
			continue
		}
		rule.ID = existing.ID
		rule.CreatedAt = existing.CreatedAt
		rule.LastTriggeredAt = existing.LastTriggeredAt
		rule.UpdatedAt = time.Now()
		if err := s.rules.Update(ctx, rule); err != nil {
			return res, fmt.Errorf("update rule %s: %w", rule.Name, err)
		}
		res.Updated++
	}
	return res, nil
}

func sameDefinition(a, b *models.AlertRule) bool {
	return a.Metric == b.Metric &&
		a.Operator == b.Operator &&
		a.Threshold == b.Threshold &&
		a.ServiceName == b.ServiceName &&
		a.Expression == b.Expression &&
		a.Duration == b.Duration &&
		a.Channel == b.Channel &&
		a.Email == b.Email &&
		a.SlackWebhookURL == b.SlackWebhookURL &&
		a.IsActive == b.IsActive
}

// Watch re-syncs whenever the rules file changes until ctx is done.
// The parent directory is watched so that atomic renames are seen.
func (s *RuleSync) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDelay)
			reload = timer.C
		case <-reload:
			reload = nil
			res, err := s.Sync(ctx)
			if err != nil {
				log.Printf("error: reload alert rules from %s: %v", s.path, err)
				continue
			}
			log.Printf("alert rules reloaded from %s: %d created, %d updated", s.path, res.Created, res.Updated)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("warning: rules watcher: %v", err)
		}
	}
}
