package artifact_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"browsergrid/internal/artifact"
)

func newTestStore(t *testing.T) (*artifact.LocalStore, string) {
	t.Helper()
	root := t.TempDir()
	store := artifact.NewLocalStore(root, "http://localhost:8080", []byte("test-secret"), 15*time.Minute)
	return store, root
}

func writeArtifact(t *testing.T, root, sessionID, key, content string) {
	t.Helper()
	dir := filepath.Join(root, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, key), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestList(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()

	t.Run("MissingSessionIsEmpty", func(t *testing.T) {
		objects, err := store.List(ctx, "nope")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(objects) != 0 {
			t.Errorf("Expected empty list, got %d", len(objects))
		}
	})

	t.Run("ListsFilesWithSignedURLs", func(t *testing.T) {
		writeArtifact(t, root, "s1", "run.webm", "webm-bytes")
		writeArtifact(t, root, "s1", "final.png", "png-bytes")

		objects, err := store.List(ctx, "s1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(objects) != 2 {
			t.Fatalf("Expected 2 objects, got %d", len(objects))
		}
		for _, obj := range objects {
			if obj.Size == 0 {
				t.Errorf("Object %s has no size", obj.Key)
			}
			if !strings.Contains(obj.URL, "sig=") || !strings.Contains(obj.URL, "expires=") {
				t.Errorf("Object %s URL is not signed: %s", obj.Key, obj.URL)
			}
		}
	})
}

func TestOpen(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	writeArtifact(t, root, "s1", "run.webm", "webm-bytes")

	rc, err := store.Open(ctx, "s1", "run.webm")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "webm-bytes" {
		t.Errorf("Unexpected content: %q", data)
	}

	if _, err := store.Open(ctx, "s1", "missing.webm"); !errors.Is(err, artifact.ErrArtifactMissing) {
		t.Errorf("Expected ErrArtifactMissing, got %v", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	store, root := newTestStore(t)
	writeArtifact(t, root, "other", "secret.txt", "secret")

	if _, err := store.Open(context.Background(), "s1", "../other/secret.txt"); !errors.Is(err, artifact.ErrInvalidPath) {
		t.Errorf("Expected ErrInvalidPath, got %v", err)
	}
	if _, err := store.SignedURL("s1", "../../etc/passwd", time.Minute); !errors.Is(err, artifact.ErrInvalidPath) {
		t.Errorf("Expected ErrInvalidPath, got %v", err)
	}
}

func TestSignedURLRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)

	signed, err := store.SignedURL("s1", "run.webm", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("Bad expires param: %v", err)
	}
	sig := u.Query().Get("sig")

	if !store.Verify("s1", "run.webm", expires, sig) {
		t.Error("Freshly signed URL should verify")
	}

	t.Run("TamperedKey", func(t *testing.T) {
		if store.Verify("s1", "other.webm", expires, sig) {
			t.Error("Signature must not transfer to another key")
		}
	})

	t.Run("TamperedSession", func(t *testing.T) {
		if store.Verify("s2", "run.webm", expires, sig) {
			t.Error("Signature must not transfer to another session")
		}
	})

	t.Run("TamperedExpiry", func(t *testing.T) {
		if store.Verify("s1", "run.webm", expires+3600, sig) {
			t.Error("Extending expiry must invalidate the signature")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).Unix()
		if store.Verify("s1", "run.webm", past, sig) {
			t.Error("Expired URL must not verify")
		}
	})

	t.Run("DifferentSecret", func(t *testing.T) {
		other := artifact.NewLocalStore(t.TempDir(), "http://localhost:8080", []byte("other-secret"), time.Minute)
		if other.Verify("s1", "run.webm", expires, sig) {
			t.Error("Signature must be bound to the signing secret")
		}
	})
}
