package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sttts/kausality/id"
)

// Manager keeps a policy file synced into a Store. It watches the file's
// directory (so atomic symlink swaps, as done by mounted config volumes, are
// picked up), debounces bursts of events, and additionally reloads on a
// fixed interval. A file that fails to load or validate is ignored and the
// last known good policy set stays applied.
type Manager struct {
	filePath  string
	dirPath   string
	baseName  string
	store     Store
	clusterID string

	log      *slog.Logger
	debounce time.Duration
	interval time.Duration

	current atomic.Value // []*AllowancePolicy
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the structured logger.
func WithManagerLogger(l *slog.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

// WithDebounce sets the event debounce window.
func WithDebounce(d time.Duration) ManagerOption { return func(m *Manager) { m.debounce = d } }

// WithReloadInterval sets the periodic reload interval.
func WithReloadInterval(d time.Duration) ManagerOption { return func(m *Manager) { m.interval = d } }

// WithClusterID scopes the synced policies to a cluster.
func WithClusterID(clusterID string) ManagerOption {
	return func(m *Manager) { m.clusterID = clusterID }
}

// NewManager creates a Manager for the given policy file, syncing into st.
func NewManager(filePath string, st Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		filePath: filePath,
		dirPath:  filepath.Dir(filePath),
		baseName: filepath.Base(filePath),
		store:    st,
		log:      slog.Default(),
		debounce: 200 * time.Millisecond,
		interval: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Current returns the last successfully loaded policy set.
func (m *Manager) Current() ([]*AllowancePolicy, bool) {
	v := m.current.Load()
	if v == nil {
		return nil, false
	}

	return v.([]*AllowancePolicy), true
}

// Start performs an initial load (which must succeed) and then watches for
// changes until the context is canceled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.reload(ctx); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(m.dirPath); err != nil {
		_ = w.Close()

		return err
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		trigger := func() {
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, func() {
				if err := m.reload(ctx); err != nil {
					m.log.Error("policy reload failed, keeping last known good", "err", err)
				} else {
					m.log.Info("policy file reloaded", "path", m.filePath)
				}
			})
		}

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.reload(ctx); err != nil {
					m.log.Error("policy periodic reload failed, keeping last known good", "err", err)
				}
			case ev := <-w.Events:
				// Mounted config volumes swap a "..data" symlink on update.
				name := filepath.Base(ev.Name)
				if name == m.baseName || name == "..data" {
					trigger()
				}
			case err := <-w.Errors:
				if err != nil {
					m.log.Error("policy watcher error", "err", err)
				}
			}
		}
	}()

	return nil
}

func (m *Manager) reload(ctx context.Context) error {
	policies, err := LoadFromFile(m.filePath)
	if err != nil {
		return err
	}

	if err := m.apply(ctx, policies); err != nil {
		return err
	}

	m.current.Store(policies)

	return nil
}

// apply reconciles the store's policy set for this cluster with the file
// contents: updates policies whose kind already exists, creates new ones,
// and deletes policies no longer in the file.
func (m *Manager) apply(ctx context.Context, policies []*AllowancePolicy) error {
	existing, err := m.store.ListPolicies(ctx, &ListFilter{ClusterID: m.clusterID})
	if err != nil {
		return fmt.Errorf("policy: list existing: %w", err)
	}

	byKind := make(map[string]*AllowancePolicy, len(existing))
	for _, p := range existing {
		byKind[p.ForKind.Key()] = p
	}

	wanted := map[string]struct{}{}

	for _, p := range policies {
		key := p.ForKind.Key()
		wanted[key] = struct{}{}

		if prev, ok := byKind[key]; ok {
			p.ID = prev.ID
			p.ClusterID = prev.ClusterID
			p.CreatedAt = prev.CreatedAt

			if err := m.store.UpdatePolicy(ctx, p); err != nil {
				return fmt.Errorf("policy: update %s: %w", key, err)
			}

			continue
		}

		p.ID = id.NewPolicyID()
		p.ClusterID = m.clusterID

		if err := m.store.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("policy: create %s: %w", key, err)
		}
	}

	for key, prev := range byKind {
		if _, keep := wanted[key]; keep {
			continue
		}

		if err := m.store.DeletePolicy(ctx, prev.ID); err != nil {
			return fmt.Errorf("policy: delete %s: %w", key, err)
		}
	}

	return nil
}
