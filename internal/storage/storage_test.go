package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"adstudio/internal/domain"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store := newStore(t)
	for _, key := range []string{"", "../escape.txt", "a/../../escape.txt"} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("Write(%q) should fail", key)
		}
	}
}

func TestFileStoreReadWriteList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.Write(ctx, "/dir/b.txt", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Write(ctx, "dir/a.txt", []byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := store.Read(ctx, "dir/a.txt")
	if err != nil || string(data) != "a" {
		t.Fatalf("Read = %q, %v", data, err)
	}
	if _, err := store.Read(ctx, "dir/missing.txt"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Read missing err = %v", err)
	}
	keys, err := store.List(ctx, "dir")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "dir/a.txt" || keys[1] != "dir/b.txt" {
		t.Fatalf("keys = %v", keys)
	}
}

func sampleRun() domain.GenerationRun {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))
	return domain.GenerationRun{
		ID:        "01JRUN",
		Logo:      domain.LogoRef{Name: "acme.png", MIMEType: "image/png", Data: []byte("logo")},
		CreatedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Results: map[string]domain.Job{
			"bus-wrap":      {TemplateID: "bus-wrap", Status: domain.JobStatusSuccess, ImageURL: "data:image/png;base64," + png},
			"car-wrap":      {TemplateID: "car-wrap", Status: domain.JobStatusLoading},
			"metro-ad":      {TemplateID: "metro-ad", Status: domain.JobStatusSuccess, ImageURL: "data:image/jpeg;base64," + png},
			"led-billboard": {TemplateID: "led-billboard", Status: domain.JobStatusSuccess, ImageURL: "https://example.com/x.png"},
		},
	}
}

func TestArchiveSaveAndLoad(t *testing.T) {
	store := newStore(t)
	archive := NewArchive(store)
	ctx := context.Background()

	keys, err := archive.SaveRun(ctx, "Ana@Example.com", sampleRun())
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("saved %v, want 2 inline images", keys)
	}
	prefix := "userbanners/" + IdentityKey("ana@example.com") + "/01JRUN/"
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			t.Fatalf("key %q outside %q", key, prefix)
		}
	}
	if _, err := os.Stat(filepath.Join(store.BasePath(), filepath.FromSlash(prefix), "metro-ad.jpg")); err != nil {
		t.Fatalf("expected jpg on disk: %v", err)
	}

	assets, err := archive.Load(ctx, "ana@example.com", "01JRUN")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(assets) != 2 || assets[0].Filename != "bus-wrap.png" || assets[0].MIME != "image/png" {
		t.Fatalf("assets = %+v", assets)
	}
}

func TestArchiveRequiresIdentity(t *testing.T) {
	archive := NewArchive(newStore(t))
	if _, err := archive.SaveRun(context.Background(), " ", sampleRun()); !errors.Is(err, domain.ErrIdentityMissing) {
		t.Fatalf("err = %v", err)
	}
	if _, err := archive.Load(context.Background(), "nobody@example.com", "none"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Load err = %v", err)
	}
}

func TestFileHistoryRoundTripAndCap(t *testing.T) {
	h := NewFileHistory(newStore(t))
	ctx := context.Background()

	empty, err := h.Get(ctx, "ana@example.com")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty Get = %v, %v", empty, err)
	}

	a, b, c := sampleRun(), sampleRun(), sampleRun()
	a.ID, b.ID, c.ID = "c", "b", "a"
	if err := h.Put(ctx, "ana@example.com", []domain.GenerationRun{a, b, c}, 2); err != nil {
		t.Fatalf("Put: %v", err)
	}
	runs, err := h.Get(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Results["bus-wrap"].ImageURL != a.Results["bus-wrap"].ImageURL || string(runs[0].Logo.Data) != "logo" {
		t.Fatal("run content not preserved")
	}
}

func TestFileHistoryCorrupted(t *testing.T) {
	store := newStore(t)
	h := NewFileHistory(store)
	if _, err := store.Write(context.Background(), h.key("ana@example.com"), []byte("{not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := h.Get(context.Background(), "ana@example.com"); !errors.Is(err, domain.ErrCorruptedHistory) {
		t.Fatalf("err = %v, want ErrCorruptedHistory", err)
	}
}

type historyRow struct {
	data []byte
	err  error
}

func (r historyRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.data
	return nil
}

type historyExecutor struct {
	saved []byte
	count int
}

func (e *historyExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.saved = args[1].([]byte)
	e.count = args[2].(int)
	return pgconn.CommandTag{}, nil
}

func (e *historyExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if e.saved == nil {
		return historyRow{err: pgx.ErrNoRows}
	}
	return historyRow{data: e.saved}
}

func (e *historyExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPGHistory(t *testing.T) {
	exec := &historyExecutor{}
	h := NewPGHistory(exec)
	ctx := context.Background()

	if runs, err := h.Get(ctx, "k"); err != nil || runs != nil {
		t.Fatalf("empty Get = %v, %v", runs, err)
	}
	if err := h.Put(ctx, "k", []domain.GenerationRun{sampleRun(), sampleRun()}, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if exec.count != 1 {
		t.Fatalf("run_count = %d, want 1", exec.count)
	}
	runs, err := h.Get(ctx, "k")
	if err != nil || len(runs) != 1 || runs[0].ID != "01JRUN" {
		t.Fatalf("Get = %+v, %v", runs, err)
	}
}

func TestRedisHistory(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	h := NewRedisHistory(client, "adstudio:test:"+t.Name()+":", time.Minute)
	ctx := context.Background()
	defer client.Del(ctx, "adstudio:test:"+t.Name()+":k")

	if runs, err := h.Get(ctx, "k"); err != nil || len(runs) != 0 {
		t.Fatalf("empty Get = %v, %v", runs, err)
	}
	if err := h.Put(ctx, "k", []domain.GenerationRun{sampleRun()}, 10); err != nil {
		t.Fatalf("Put: %v", err)
	}
	runs, err := h.Get(ctx, "k")
	if err != nil || len(runs) != 1 {
		t.Fatalf("Get = %+v, %v", runs, err)
	}
}
