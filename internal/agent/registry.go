package agent

import (
	"context"
	"sync"
)

// sessionKey scopes a remote session id to its working directory. Two
// directories may each host a remote session with the same id without
// colliding in the registry.
type sessionKey struct {
	Directory string
	RemoteID  string
}

// subscription is one live event stream for a directory, shared by every
// session connected under it.
type subscription struct {
	cancel context.CancelFunc
	refs   int
}

// instance is the state assembled around one runtime subprocess: the session
// registry, the per-directory subscriptions, and the child-to-parent cache.
// Exactly zero or one instance exists per orchestrator.
type instance struct {
	proc   *runtimeProcess // nil when the orchestrator was built around an external client
	client runtimeClient

	mu       sync.Mutex
	sessions map[sessionKey]string // scoped mapping → owning session id
	legacy   map[string]string     // unscoped mapping from older releases
	subs     map[string]*subscription

	// childParents maps (directory, child remote id) → parent remote id.
	// The empty string is the known-non-child sentinel: it records that the
	// runtime was already asked and reported no parent, so the lookup is
	// never repeated.
	childParents map[sessionKey]string
}

func newInstance(client runtimeClient, proc *runtimeProcess) *instance {
	return &instance{
		proc:         proc,
		client:       client,
		sessions:     make(map[sessionKey]string),
		legacy:       make(map[string]string),
		subs:         make(map[string]*subscription),
		childParents: make(map[sessionKey]string),
	}
}

// register points the scoped key at an owning session id.
func (in *instance) register(directory, remoteID, owningID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.sessions[sessionKey{directory, remoteID}] = owningID
}

// registered reports whether the scoped key is present.
func (in *instance) registered(directory, remoteID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.sessions[sessionKey{directory, remoteID}]
	return ok
}

// retarget re-points an existing scoped key at a new owning id. Returns
// false when the key is not registered.
func (in *instance) retarget(directory, remoteID, owningID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	key := sessionKey{directory, remoteID}
	if _, ok := in.sessions[key]; !ok {
		return false
	}
	in.sessions[key] = owningID
	return true
}

// migrateLegacy rewrites a bare remote-id mapping into the scoped shape and
// deletes the legacy entry. Returns true when a migration happened.
func (in *instance) migrateLegacy(directory, remoteID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	owning, ok := in.legacy[remoteID]
	if !ok {
		return false
	}
	in.sessions[sessionKey{directory, remoteID}] = owning
	delete(in.legacy, remoteID)
	return true
}

// lookupOwner resolves a remote session id to its owning session id:
// scoped key first, then the legacy map, then a compatibility scan that
// matches the remote id regardless of directory (mixed-state registries
// written by older releases).
func (in *instance) lookupOwner(directory, remoteID string) (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if owning, ok := in.sessions[sessionKey{directory, remoteID}]; ok {
		return owning, true
	}
	if owning, ok := in.legacy[remoteID]; ok {
		return owning, true
	}
	for key, owning := range in.sessions {
		if key.RemoteID == remoteID {
			return owning, true
		}
	}
	return "", false
}

// removeMappings clears both the scoped key and any residual legacy entry.
func (in *instance) removeMappings(directory, remoteID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.sessions, sessionKey{directory, remoteID})
	delete(in.legacy, remoteID)
}

// empty reports whether no session mapping remains.
func (in *instance) empty() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.sessions) == 0 && len(in.legacy) == 0
}

// subscribe increments the directory's reference count, creating the
// subscription when none exists. It returns the consumer context (non-nil
// only on creation) and the subscription handle.
func (in *instance) subscribe(directory string) (context.Context, *subscription) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if sub, ok := in.subs[directory]; ok {
		sub.refs++
		return nil, sub
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, refs: 1}
	in.subs[directory] = sub
	return ctx, sub
}

// unsubscribe decrements the directory's reference count and cancels and
// removes the subscription when it reaches zero.
func (in *instance) unsubscribe(directory string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	sub, ok := in.subs[directory]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs <= 0 {
		sub.cancel()
		delete(in.subs, directory)
	}
}

// dropSubscription removes a subscription whose stream terminated on its
// own. The guard against the stored handle keeps a replacement subscription
// created in the meantime intact.
func (in *instance) dropSubscription(directory string, sub *subscription) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if current, ok := in.subs[directory]; ok && current == sub {
		current.cancel()
		delete(in.subs, directory)
	}
}

// subscriptionRefs returns the reference count for a directory (0 when no
// subscription exists). Used by tests to check the refcount invariant.
func (in *instance) subscriptionRefs(directory string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if sub, ok := in.subs[directory]; ok {
		return sub.refs
	}
	return 0
}

// cachedParent returns the cached parent for a child remote id. The second
// return distinguishes "not cached" from the known-non-child sentinel.
func (in *instance) cachedParent(directory, childID string) (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	parent, ok := in.childParents[sessionKey{directory, childID}]
	return parent, ok
}

// cacheParent records a child's parent ("" for known non-children).
func (in *instance) cacheParent(directory, childID, parentID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.childParents[sessionKey{directory, childID}] = parentID
}

// purgeChildren evicts cache entries whose parent is the session being
// disconnected.
func (in *instance) purgeChildren(directory, parentRemoteID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for key, parent := range in.childParents {
		if key.Directory == directory && parent == parentRemoteID {
			delete(in.childParents, key)
		}
	}
}

// clearCaches drops the child-to-parent cache. Called on shutdown.
func (in *instance) clearCaches() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.childParents = make(map[sessionKey]string)
}

// cancelAllSubscriptions cancels every live subscription. Called on shutdown.
func (in *instance) cancelAllSubscriptions() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for dir, sub := range in.subs {
		sub.cancel()
		delete(in.subs, dir)
	}
}
