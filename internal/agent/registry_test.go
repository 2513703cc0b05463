package agent

import "testing"

func TestLookupOwnerPrefersScopedMapping(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	in.register("/a", "remote-1", "app-scoped")
	in.mu.Lock()
	in.legacy["remote-1"] = "app-legacy"
	in.mu.Unlock()

	owning, ok := in.lookupOwner("/a", "remote-1")
	if !ok || owning != "app-scoped" {
		t.Fatalf("lookupOwner = %q, %v; want app-scoped, true", owning, ok)
	}
}

func TestLookupOwnerFallsBackToLegacy(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	in.mu.Lock()
	in.legacy["remote-1"] = "app-legacy"
	in.mu.Unlock()

	owning, ok := in.lookupOwner("/a", "remote-1")
	if !ok || owning != "app-legacy" {
		t.Fatalf("lookupOwner = %q, %v; want app-legacy, true", owning, ok)
	}
}

func TestLookupOwnerScansAcrossDirectories(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	in.register("/other", "remote-1", "app-1")

	owning, ok := in.lookupOwner("/a", "remote-1")
	if !ok || owning != "app-1" {
		t.Fatalf("lookupOwner = %q, %v; want app-1, true", owning, ok)
	}

	if _, ok := in.lookupOwner("/a", "remote-missing"); ok {
		t.Fatal("lookupOwner found a mapping for an unknown remote id")
	}
}

func TestMigrateLegacy(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	in.mu.Lock()
	in.legacy["remote-1"] = "app-1"
	in.mu.Unlock()

	if !in.migrateLegacy("/a", "remote-1") {
		t.Fatal("migrateLegacy = false; want true")
	}
	if !in.registered("/a", "remote-1") {
		t.Fatal("scoped mapping missing after migration")
	}
	in.mu.Lock()
	_, stillThere := in.legacy["remote-1"]
	in.mu.Unlock()
	if stillThere {
		t.Fatal("legacy entry survived migration")
	}

	if in.migrateLegacy("/a", "remote-1") {
		t.Fatal("second migrateLegacy = true; want false")
	}
}

func TestRetargetRequiresExistingMapping(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	if in.retarget("/a", "remote-1", "app-2") {
		t.Fatal("retarget succeeded without a mapping")
	}

	in.register("/a", "remote-1", "app-1")
	if !in.retarget("/a", "remote-1", "app-2") {
		t.Fatal("retarget failed on a registered mapping")
	}
	owning, _ := in.lookupOwner("/a", "remote-1")
	if owning != "app-2" {
		t.Fatalf("owning id = %q after retarget; want app-2", owning)
	}
}

func TestSubscribeRefcounting(t *testing.T) {
	in := newInstance(newFakeClient(), nil)

	ctx, sub := in.subscribe("/a")
	if ctx == nil || sub == nil {
		t.Fatal("first subscribe must return a consumer context")
	}
	if got := in.subscriptionRefs("/a"); got != 1 {
		t.Fatalf("refs = %d; want 1", got)
	}

	ctx2, sub2 := in.subscribe("/a")
	if ctx2 != nil {
		t.Fatal("second subscribe must not return a new context")
	}
	if sub2 != sub {
		t.Fatal("second subscribe returned a different handle")
	}
	if got := in.subscriptionRefs("/a"); got != 2 {
		t.Fatalf("refs = %d; want 2", got)
	}

	in.unsubscribe("/a")
	if got := in.subscriptionRefs("/a"); got != 1 {
		t.Fatalf("refs after first unsubscribe = %d; want 1", got)
	}
	if ctx.Err() != nil {
		t.Fatal("context cancelled while references remain")
	}

	in.unsubscribe("/a")
	if got := in.subscriptionRefs("/a"); got != 0 {
		t.Fatalf("refs after last unsubscribe = %d; want 0", got)
	}
	if ctx.Err() == nil {
		t.Fatal("context not cancelled after last unsubscribe")
	}

	// A further unsubscribe on a gone directory is a no-op.
	in.unsubscribe("/a")
}

func TestDropSubscriptionGuardsHandleIdentity(t *testing.T) {
	in := newInstance(newFakeClient(), nil)

	_, old := in.subscribe("/a")
	in.unsubscribe("/a")

	ctx, fresh := in.subscribe("/a")
	if fresh == old {
		t.Fatal("subscribe reused the cancelled handle")
	}

	// The old stream's termination must not tear down the fresh subscription.
	in.dropSubscription("/a", old)
	if got := in.subscriptionRefs("/a"); got != 1 {
		t.Fatalf("refs = %d after stale drop; want 1", got)
	}
	if ctx.Err() != nil {
		t.Fatal("fresh subscription cancelled by a stale drop")
	}

	in.dropSubscription("/a", fresh)
	if got := in.subscriptionRefs("/a"); got != 0 {
		t.Fatalf("refs = %d after matching drop; want 0", got)
	}
	if ctx.Err() == nil {
		t.Fatal("matching drop did not cancel the subscription")
	}
}

func TestParentCacheSentinel(t *testing.T) {
	in := newInstance(newFakeClient(), nil)

	if _, ok := in.cachedParent("/a", "child"); ok {
		t.Fatal("empty cache reported a hit")
	}

	in.cacheParent("/a", "child", "")
	parent, ok := in.cachedParent("/a", "child")
	if !ok || parent != "" {
		t.Fatalf("sentinel lookup = %q, %v; want \"\", true", parent, ok)
	}
}

func TestPurgeChildren(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	in.cacheParent("/a", "child-1", "parent-1")
	in.cacheParent("/a", "child-2", "parent-1")
	in.cacheParent("/a", "child-3", "parent-2")
	in.cacheParent("/b", "child-4", "parent-1")

	in.purgeChildren("/a", "parent-1")

	if _, ok := in.cachedParent("/a", "child-1"); ok {
		t.Fatal("child-1 survived purge")
	}
	if _, ok := in.cachedParent("/a", "child-2"); ok {
		t.Fatal("child-2 survived purge")
	}
	if _, ok := in.cachedParent("/a", "child-3"); !ok {
		t.Fatal("child of another parent was purged")
	}
	if _, ok := in.cachedParent("/b", "child-4"); !ok {
		t.Fatal("child in another directory was purged")
	}
}

func TestEmptyTracksBothMaps(t *testing.T) {
	in := newInstance(newFakeClient(), nil)
	if !in.empty() {
		t.Fatal("new instance should be empty")
	}

	in.register("/a", "remote-1", "app-1")
	if in.empty() {
		t.Fatal("instance with a scoped mapping reported empty")
	}
	in.removeMappings("/a", "remote-1")
	if !in.empty() {
		t.Fatal("instance not empty after removing the only mapping")
	}

	in.mu.Lock()
	in.legacy["remote-2"] = "app-2"
	in.mu.Unlock()
	if in.empty() {
		t.Fatal("instance with a legacy mapping reported empty")
	}
	in.removeMappings("/a", "remote-2")
	if !in.empty() {
		t.Fatal("removeMappings left the legacy entry behind")
	}
}
