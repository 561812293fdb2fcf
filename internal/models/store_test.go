package models

import (
	"path/filepath"
	"testing"

	"github.com/fosslife/rykard/internal/db"
)

// openTestDB creates a temp BoltDB for testing.
func openTestDB(t *testing.T) *UserStore {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return NewUserStore(database)
}

func openTestSettingStore(t *testing.T) *SettingStore {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return NewSettingStore(database)
}

// --- UserStore ---

func TestUserStoreCreateAndFind(t *testing.T) {
	t.Parallel()
	store := openTestDB(t)

	user, err := store.Create("alice", "password123")
	if err != nil {
		t.Fatal(err)
	}
	if user.Username != "alice" {
		t.Errorf("username = %q", user.Username)
	}
	if user.ID == 0 {
		t.Error("expected non-zero ID")
	}

	// Find by username
	found, err := store.FindByUsername("alice")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil {
		t.Fatal("expected user, got nil")
	}
	if found.Username != "alice" {
		t.Errorf("found.Username = %q", found.Username)
	}

	// Find by ID
	foundByID, err := store.FindByID(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if foundByID == nil {
		t.Fatal("expected user by ID, got nil")
	}
	if foundByID.Username != "alice" {
		t.Errorf("foundByID.Username = %q", foundByID.Username)
	}

	// Find nonexistent
	notFound, err := store.FindByUsername("bob")
	if err != nil {
		t.Fatal(err)
	}
	if notFound != nil {
		t.Error("expected nil for nonexistent user")
	}
}

func TestUserStoreCount(t *testing.T) {
	t.Parallel()
	store := openTestDB(t)

	count, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("initial count = %d, want 0", count)
	}

	store.Create("user1", "pass1")
	store.Create("user2", "pass2")

	count, err = store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count after 2 creates = %d, want 2", count)
	}
}

func TestUserStoreChangePassword(t *testing.T) {
	t.Parallel()
	store := openTestDB(t)

	user, err := store.Create("admin", "oldpassword")
	if err != nil {
		t.Fatal(err)
	}

	// Verify old password works
	if !VerifyPassword("oldpassword", user.Password) {
		t.Fatal("old password should verify")
	}

	// Change password
	if err := store.ChangePassword(user.ID, "newpassword"); err != nil {
		t.Fatal(err)
	}

	// Verify new password works
	updated, err := store.FindByUsername("admin")
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword("newpassword", updated.Password) {
		t.Error("new password should verify")
	}
	if VerifyPassword("oldpassword", updated.Password) {
		t.Error("old password should no longer verify")
	}
}

// --- SettingStore ---

func TestSettingStoreGetSet(t *testing.T) {
	t.Parallel()
	store := openTestSettingStore(t)

	// Get nonexistent returns empty
	val, err := store.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if val != "" {
		t.Errorf("expected empty for missing key, got %q", val)
	}

	// Set and get
	if err := store.Set("dockerHost", "unix:///var/run/docker.sock"); err != nil {
		t.Fatal(err)
	}
	val, err = store.Get("dockerHost")
	if err != nil {
		t.Fatal(err)
	}
	if val != "unix:///var/run/docker.sock" {
		t.Errorf("val = %q", val)
	}

	// Overwrite
	if err := store.Set("dockerHost", "tcp://127.0.0.1:2375"); err != nil {
		t.Fatal(err)
	}
	val, err = store.Get("dockerHost")
	if err != nil {
		t.Fatal(err)
	}
	if val != "tcp://127.0.0.1:2375" {
		t.Errorf("val = %q", val)
	}
}

func TestSettingStoreWriteThroughCache(t *testing.T) {
	t.Parallel()
	store := openTestSettingStore(t)

	store.Set("engineMode", "api")
	store.Get("engineMode") // populate cache

	// An immediate overwrite must be visible despite the read cache.
	store.Set("engineMode", "cli")
	val, err := store.Get("engineMode")
	if err != nil {
		t.Fatal(err)
	}
	if val != "cli" {
		t.Errorf("val = %q, want the freshly written value", val)
	}
}

func TestSettingStoreJSON(t *testing.T) {
	t.Parallel()
	store := openTestSettingStore(t)

	type prefs struct {
		LogTail  int  `json:"log_tail"`
		DarkMode bool `json:"dark_mode"`
	}

	var missing prefs
	ok, err := store.GetJSON("prefs", &missing)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("GetJSON reported a value for a missing key")
	}

	if err := store.SetJSON("prefs", prefs{LogTail: 250, DarkMode: true}); err != nil {
		t.Fatal(err)
	}

	var got prefs
	ok, err = store.GetJSON("prefs", &got)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("GetJSON missed a stored value")
	}
	if got.LogTail != 250 || !got.DarkMode {
		t.Errorf("round-trip = %+v", got)
	}
}

func TestSettingStoreGetAll(t *testing.T) {
	t.Parallel()
	store := openTestSettingStore(t)

	store.Set("key1", "val1")
	store.Set("key2", "val2")

	all, err := store.GetAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(all))
	}
	if all["key1"] != "val1" {
		t.Errorf("key1 = %q", all["key1"])
	}
}

func TestSettingStoreEnsureJWTSecret(t *testing.T) {
	t.Parallel()
	store := openTestSettingStore(t)

	// First call generates a secret
	secret1, err := store.EnsureJWTSecret()
	if err != nil {
		t.Fatal(err)
	}
	if secret1 == "" {
		t.Fatal("expected non-empty secret")
	}

	// Second call returns the same secret (idempotent)
	secret2, err := store.EnsureJWTSecret()
	if err != nil {
		t.Fatal(err)
	}
	if secret1 != secret2 {
		t.Error("EnsureJWTSecret is not idempotent")
	}
}

func TestSettingStoreInvalidateCache(t *testing.T) {
	t.Parallel()
	store := openTestSettingStore(t)

	store.Set("key", "cached-value")
	store.Get("key") // populate cache

	store.InvalidateCache()

	// Should still work (reads from DB)
	val, err := store.Get("key")
	if err != nil {
		t.Fatal(err)
	}
	if val != "cached-value" {
		t.Errorf("val = %q after cache invalidation", val)
	}
}
