package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "lixiwatch/pkg/logx"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, "notifications"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want miss", ok, err)
	}
	if err := st.Put(ctx, "notifications", []byte(`[1]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "notifications", []byte(`[1,2]`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	if err := st.Put(ctx, "seenEvents", []byte(`["a-0"]`)); err != nil {
		t.Fatalf("Put second key: %v", err)
	}
	got, ok, err := st.Get(ctx, "notifications")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != `[1,2]` {
		t.Fatalf("Get = %s, want [1,2]", got)
	}
	got, _, _ = st.Get(ctx, "seenEvents")
	if string(got) != `["a-0"]` {
		t.Fatalf("Get(seenEvents) = %s", got)
	}
	if err := st.Put(ctx, "  ", []byte(`x`)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Put(empty key) err = %v, want ErrInvalidKey", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	exerciseStore(t, st)

	// Values are copied, callers can't mutate stored state.
	b, _, _ := st.Get(context.Background(), "notifications")
	b[0] = 'X'
	again, _, _ := st.Get(context.Background(), "notifications")
	if again[0] != '[' {
		t.Fatalf("stored value was mutated through returned slice")
	}

	_ = st.Close()
	if err := st.Put(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after Close err = %v, want ErrClosed", err)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "state")
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)

	if _, err := os.Stat(filepath.Join(dir, "notifications.json")); err != nil {
		t.Fatalf("expected notifications.json on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notifications.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	// Survives reopen.
	st2, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, ok, err := st2.Get(context.Background(), "notifications")
	if err != nil || !ok || string(got) != `[1,2]` {
		t.Fatalf("after reopen Get = %s ok=%v err=%v", got, ok, err)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lixiwatch.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, ok, err := st2.Get(context.Background(), "notifications")
	if err != nil || !ok || string(got) != `[1,2]` {
		t.Fatalf("after reopen Get = %s ok=%v err=%v", got, ok, err)
	}
}

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("LIXIWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LIXIWATCH_TEST_POSTGRES_DSN not set")
	}
	st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	// Start from a clean slate for the keys under test.
	ctx := context.Background()
	pg := st.(*postgresStore)
	if err := pg.ensureReady(ctx); err != nil {
		t.Fatalf("ensureReady: %v", err)
	}
	if _, err := pg.db.ExecContext(ctx, `DELETE FROM lixiwatch_kv WHERE key IN ('notifications','seenEvents')`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	exerciseStore(t, st)
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("LIXIWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIXIWATCH_TEST_REDIS_ADDR not set")
	}
	st, err := Open(Config{Driver: "redis", DSN: addr, KeyPrefix: "lixiwatch-test:" + t.Name() + ":"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	rs := st.(*redisStore)
	_ = rs.client.Del(context.Background(), rs.prefix+"notifications", rs.prefix+"seenEvents").Err()
	exerciseStore(t, st)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for postgres driver without dsn")
	}
}

func TestLoadJSONDegradesOnCorruption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	_ = st.Put(ctx, "history", []byte(`{not json`))

	var out []string
	ok, err := LoadJSON(ctx, st, "history", &out)
	if err == nil || ok {
		t.Fatalf("LoadJSON(corrupt) = ok=%v err=%v, want decode error", ok, err)
	}
	if err := SaveJSON(ctx, st, "seenEvents", []string{"a", "b"}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	ok, err = LoadJSON(ctx, st, "seenEvents", &out)
	if err != nil || !ok || len(out) != 2 {
		t.Fatalf("LoadJSON = %v ok=%v err=%v", out, ok, err)
	}
}
