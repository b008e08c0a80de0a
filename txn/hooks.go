package txn

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ixdb/ixdb/kv"
)

// PreCommitCheck validates a transaction before commit; a failing check
// aborts the commit (spec §4.4 step 4, CommitHook.before_commit).
type PreCommitCheck interface {
	Priority() int
	Check(ctx context.Context, tx kv.Tx) error
}

// PostCommitAction runs after a successful commit; failures are logged
// only, never propagated to the caller's transaction path (spec §7).
type PostCommitAction interface {
	Priority() int
	Run(ctx context.Context, committedVersion int64) error
}

// HookRegistry is process-wide shared state (spec §5) registering default
// checks/actions applied to every transaction run through an Engine, in
// addition to any passed explicitly to Run. Guarded by a single mutex with
// the shortest possible critical section; never locked across I/O.
type HookRegistry struct {
	mu      sync.Mutex
	checks  []PreCommitCheck
	actions []PostCommitAction
}

func NewHookRegistry() *HookRegistry { return &HookRegistry{} }

func (r *HookRegistry) RegisterPreCommit(c PreCommitCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

func (r *HookRegistry) RegisterPostCommit(a PostCommitAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

func (r *HookRegistry) snapshot() ([]PreCommitCheck, []PostCommitAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	checks := append([]PreCommitCheck(nil), r.checks...)
	actions := append([]PostCommitAction(nil), r.actions...)
	return checks, actions
}

// runPreCommit executes checks sorted by descending priority. failFast
// stops at the first error; otherwise every check runs and the first
// error (if any) is returned after all have run (collect-all).
func runPreCommit(ctx context.Context, tx kv.Tx, checks []PreCommitCheck, failFast bool) error {
	sorted := append([]PreCommitCheck(nil), checks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })

	var firstErr error
	for _, c := range sorted {
		if err := c.Check(ctx, tx); err != nil {
			if failFast {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// runPostCommit groups actions by priority class and runs each class
// concurrently (spec §4.4: "PostCommitAction abstraction supports
// concurrent execution by priority class"), processing classes in
// descending priority order. Every result (nil or error) is collected and
// returned; callers only log failures, per §7.
func runPostCommit(ctx context.Context, actions []PostCommitAction, committedVersion int64, logger *zap.Logger) []error {
	if len(actions) == 0 {
		return nil
	}
	byPriority := map[int][]PostCommitAction{}
	var priorities []int
	for _, a := range actions {
		p := a.Priority()
		if _, ok := byPriority[p]; !ok {
			priorities = append(priorities, p)
		}
		byPriority[p] = append(byPriority[p], a)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	var results []error
	for _, p := range priorities {
		class := byPriority[p]
		classResults := make([]error, len(class))
		var wg sync.WaitGroup
		for i, a := range class {
			wg.Add(1)
			go func(i int, a PostCommitAction) {
				defer wg.Done()
				classResults[i] = a.Run(ctx, committedVersion)
			}(i, a)
		}
		wg.Wait()
		for i, err := range classResults {
			if err != nil {
				logger.Warn("post-commit action failed", zap.Int("priority", p), zap.Error(err))
			}
			_ = i
			results = append(results, err)
		}
	}
	return results
}
