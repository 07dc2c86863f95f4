package statetree

import (
	"fmt"
	"time"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/log"
	"github.com/rs/zerolog"
)

// deleteBufferSize bounds the in-memory batch of pending key deletes
// before a flush, per spec §4.C ("flush threshold ≈ 10^6 keys").
const deleteBufferSize = 1_000_000

// Config parameterizes the GC's tick interval and retained-history
// horizon, matching spec §6's StateHashTreeGcConfig.
type Config struct {
	IntervalSeconds int
	HistoryLength   uint64
}

// GC periodically deletes stale JMT nodes older than the retained
// history horizon, post-order so a mid-run crash always leaves a
// surviving parent with existing (or already-deleted-and-tolerated)
// children — spec §4.C's crash-resume contract.
type GC struct {
	store  *kv.Store
	tree   *Tree
	cfg    Config
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewGC constructs a GC bound to store, using tree for node lookups.
func NewGC(store *kv.Store, tree *Tree, cfg Config) *GC {
	return &GC{
		store:  store,
		tree:   tree,
		cfg:    cfg,
		logger: log.WithComponent("statetree-gc"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the ticked background loop.
func (g *GC) Start() {
	go g.run()
}

// Stop signals the loop to exit; it does not wait for an in-flight run
// to finish.
func (g *GC) Stop() {
	close(g.stopCh)
}

func (g *GC) run() {
	interval := time.Duration(g.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.Run(); err != nil {
				g.logger.Error().Err(err).Msg("state tree gc cycle failed")
			}
		case <-g.stopCh:
			return
		}
	}
}

// currentVersion resolves the highest recorded root version, used to
// compute the GC horizon. Tracked via the roots table's own highest
// entry rather than a separate counter, since every commit writes one.
func (g *GC) currentVersion(snap *kv.Snapshot) (ledger.StateVersion, bool, error) {
	return rootsTable.Last(snap)
}

// Run performs one GC cycle: deletes every stale-part record (and the
// tree nodes it names) for versions strictly below current - historyLength.
func (g *GC) Run() error {
	start := time.Now()
	deleted := 0

	var horizon ledger.StateVersion
	err := g.store.View(func(snap *kv.Snapshot) error {
		current, ok, err := g.currentVersion(snap)
		if err != nil {
			return err
		}
		if !ok || uint64(current) < g.cfg.HistoryLength {
			horizon = ledger.PreGenesis
			return nil
		}
		horizon = ledger.StateVersion(uint64(current) - g.cfg.HistoryLength)
		return nil
	})
	if err != nil {
		return fmt.Errorf("state tree gc: resolve horizon: %w", err)
	}
	if horizon == ledger.PreGenesis {
		return nil
	}

	staleVersions, err := g.staleVersionsBelow(horizon)
	if err != nil {
		return fmt.Errorf("state tree gc: %w", err)
	}

	buf := newDeleteBuffer(g.store, deleteBufferSize)
	for _, version := range staleVersions {
		parts, err := g.loadStaleParts(version)
		if err != nil {
			return fmt.Errorf("state tree gc: load stale parts at version %d: %w", version, err)
		}
		for _, part := range parts {
			n, err := g.deletePart(buf, part)
			if err != nil {
				return fmt.Errorf("state tree gc: delete part at version %d: %w", version, err)
			}
			deleted += n
		}
		if err := buf.deleteStalePartList(version); err != nil {
			return fmt.Errorf("state tree gc: clear stale-part list at version %d: %w", version, err)
		}
	}
	if err := buf.flush(); err != nil {
		return fmt.Errorf("state tree gc: final flush: %w", err)
	}

	g.logger.Info().
		Int("nodes_deleted", deleted).
		Dur("duration", time.Since(start)).
		Uint64("horizon", uint64(horizon)).
		Msg("state tree gc cycle complete")
	return nil
}

func (g *GC) staleVersionsBelow(horizon ledger.StateVersion) ([]ledger.StateVersion, error) {
	var out []ledger.StateVersion
	err := g.store.View(func(snap *kv.Snapshot) error {
		versions, err := staleVersionsBelow(snap, horizon)
		if err != nil {
			return err
		}
		out = versions
		return nil
	})
	return out, err
}

func (g *GC) loadStaleParts(version ledger.StateVersion) ([]StalePart, error) {
	var out []StalePart
	err := g.store.View(func(snap *kv.Snapshot) error {
		it, err := staleParts.IterateGroup(snap, version)
		if err != nil {
			return err
		}
		for it.Next() {
			_, part, err := it.KV()
			if err != nil {
				return err
			}
			out = append(out, part)
		}
		return nil
	})
	return out, err
}

// deletePart deletes a Node part directly, or performs a post-order DFS
// deletion of a Subtree part, returning the count of nodes deleted.
func (g *GC) deletePart(buf *deleteBuffer, part StalePart) (int, error) {
	switch part.Kind {
	case StaleNode:
		if err := buf.deleteNode(part.Key); err != nil {
			return 0, err
		}
		return 1, nil
	case StaleSubtree:
		return g.deleteSubtreePostOrder(buf, part.Key)
	default:
		return 0, fmt.Errorf("unknown stale part kind %q", part.Kind)
	}
}

// deleteSubtreePostOrder walks root's children (as recorded in its own
// Children list, never by re-reading a leaf just to recurse further)
// and deletes depth-first, children before parent. A child absent from
// the store (because a prior, crashed run already deleted it) is
// silently tolerated: Get reports ok=false and the recursion simply
// treats that branch as already done.
func (g *GC) deleteSubtreePostOrder(buf *deleteBuffer, root NodeKey) (int, error) {
	var node Node
	var ok bool
	err := g.store.View(func(snap *kv.Snapshot) error {
		n, found, err := nodesTable.Get(snap, root)
		node, ok = n, found
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("load node %+v: %w", root, err)
	}
	if !ok {
		return 0, nil
	}

	deleted := 0
	if node.Kind == NodeInternal {
		for _, child := range node.Children {
			if child.IsLeaf {
				childKey := NodeKey{Version: child.Version, Path: append(append(NibblePath(nil), root.Path...), child.Nibble)}
				if err := buf.deleteNode(childKey); err != nil {
					return deleted, err
				}
				deleted++
				continue
			}
			childKey := NodeKey{Version: child.Version, Path: append(append(NibblePath(nil), root.Path...), child.Nibble)}
			n, err := g.deleteSubtreePostOrder(buf, childKey)
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
	}
	if err := buf.deleteNode(root); err != nil {
		return deleted, err
	}
	return deleted + 1, nil
}
