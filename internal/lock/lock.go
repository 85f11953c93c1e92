// Package lock provides per-entity mutual exclusion.
//
// Every mutating operation on a pre-invoice, block, dispute or carrier file
// acquires the keys of the entities it reads and writes before loading them.
// Keys are always acquired in sorted order so that two operations touching
// overlapping entity sets cannot deadlock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrTimeout is returned when a lock could not be acquired before the context expired.
var ErrTimeout = errors.New("lock acquisition timed out")

// Locker acquires a set of keys atomically from the caller's point of view.
// The returned release function is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// Key builds a lock key for an entity.
func Key(kind string, id any) string {
	return fmt.Sprintf("%s:%v", kind, id)
}

// normalize sorts and deduplicates keys.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// acquireAll takes each key in order with acquire and releases what it got
// on the first failure.
func acquireAll(ctx context.Context, keys []string, acquire func(context.Context, string) (func(), error)) (func(), error) {
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
		releases = releases[:0]
	}
	for _, k := range normalize(keys) {
		rel, err := acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}
