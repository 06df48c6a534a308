package storage

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestLocalStorePutGetDelete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	content := "a,b\n1,2"
	if err := store.Put(ctx, "conv-1/att-1/data.csv", strings.NewReader(content), int64(len(content)), "text/csv"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, "conv-1/att-1/data.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if string(data) != content {
		t.Fatalf("content = %q, want %q", data, content)
	}

	url, err := store.PublicURL(ctx, "conv-1/att-1/data.csv", 0)
	if err != nil {
		t.Fatalf("PublicURL: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("url = %q, want file:// prefix", url)
	}

	if err := store.Delete(ctx, "conv-1/att-1/data.csv"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "conv-1/att-1/data.csv"); err == nil {
		t.Fatalf("expected Get to fail after Delete")
	}
	// Deleting twice stays quiet.
	if err := store.Delete(ctx, "conv-1/att-1/data.csv"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestLocalStoreSanitizesTraversal(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStore(base)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "../../etc/passwd", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(store.path("../../etc/passwd"), base) {
		t.Fatalf("path escaped base dir: %q", store.path("../../etc/passwd"))
	}
}
