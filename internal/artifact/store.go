package artifact

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrInvalidPath     = errors.New("invalid artifact path")
	ErrArtifactMissing = errors.New("artifact not found")
)

type Object struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	URL     string    `json:"url"`
}

// Store exposes a session's recordings and screenshots: listing by
// session prefix and expiring signed download URLs.
type Store interface {
	List(ctx context.Context, sessionID string) ([]Object, error)
	Open(ctx context.Context, sessionID, key string) (io.ReadCloser, error)
	SignedURL(sessionID, key string, ttl time.Duration) (string, error)
	Verify(sessionID, key string, expires int64, sig string) bool
}

var _ Store = (*LocalStore)(nil)

// LocalStore serves artifacts from a per-session directory under a host
// root, with HMAC-signed URLs so downloads need no session token.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	urlTTL  time.Duration
}

func NewLocalStore(root, baseURL string, secret []byte, urlTTL time.Duration) *LocalStore {
	if urlTTL == 0 {
		urlTTL = 15 * time.Minute
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		urlTTL:  urlTTL,
	}
}

func (s *LocalStore) resolve(sessionID, key string) (string, error) {
	base := filepath.Join(s.root, sessionID)
	target := filepath.Join(base, key)
	if !strings.HasPrefix(target, filepath.Clean(base)) {
		return "", fmt.Errorf("%w: path escapes session directory: %s", ErrInvalidPath, key)
	}
	return target, nil
}

func (s *LocalStore) List(ctx context.Context, sessionID string) ([]Object, error) {
	dir := filepath.Join(s.root, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Object{}, nil
		}
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var objects []Object
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat artifact: %w", err)
		}

		signed, err := s.SignedURL(sessionID, entry.Name(), s.urlTTL)
		if err != nil {
			return nil, err
		}

		objects = append(objects, Object{
			Key:     entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			URL:     signed,
		})
	}

	return objects, nil
}

func (s *LocalStore) Open(ctx context.Context, sessionID, key string) (io.ReadCloser, error) {
	target, err := s.resolve(sessionID, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactMissing
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

func (s *LocalStore) SignedURL(sessionID, key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(sessionID, key); err != nil {
		return "", err
	}

	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(sessionID, key, expires)
	return fmt.Sprintf("%s/artifacts/%s/%s?expires=%d&sig=%s",
		s.baseURL, sessionID, url.PathEscape(key), expires, sig), nil
}

func (s *LocalStore) Verify(sessionID, key string, expires int64, sig string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	want := s.sign(sessionID, key, expires)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *LocalStore) sign(sessionID, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s/%s:%d", sessionID, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
