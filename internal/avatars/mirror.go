package avatars

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/clipcast/clipcast/backend/account-service/internal/accounts"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
	"github.com/clipcast/clipcast/backend/account-service/pkg/logger"
)

// Uploader is the slice of the object store the mirror needs.
type Uploader interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

// Mirror copies bound-account avatar images into the object store so the
// dashboard never hotlinks a platform CDN. Mirroring is best effort: a
// failed download or upload is logged and skipped, never surfaced.
type Mirror struct {
	store Uploader
	httpc *http.Client

	mu     sync.Mutex
	synced map[platform.Platform]string // platform -> last mirrored avatar URL
}

func NewMirror(store Uploader) *Mirror {
	return &Mirror{
		store:  store,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		synced: make(map[platform.Platform]string),
	}
}

// ObjectKey derives a stable store key for an avatar URL. The same URL
// always maps to the same key, so re-mirroring overwrites in place.
func ObjectKey(p platform.Platform, avatarURL string) string {
	sum := sha1.Sum([]byte(avatarURL))
	ext := ".img"
	if u, err := url.Parse(avatarURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return fmt.Sprintf("avatars/%s/%s%s", p, hex.EncodeToString(sum[:]), ext)
}

// Sync mirrors the avatars of every connected status that changed since the
// last call.
func (m *Mirror) Sync(ctx context.Context, statuses []accounts.Status) {
	for _, st := range statuses {
		if !st.Connected || st.AvatarURL == "" {
			continue
		}
		m.mu.Lock()
		done := m.synced[st.Platform] == st.AvatarURL
		m.mu.Unlock()
		if done {
			continue
		}
		if err := m.mirrorOne(ctx, st.Platform, st.AvatarURL); err != nil {
			logger.Warnf("avatars: mirror for %s failed: %v", st.Platform, err)
			continue
		}
		m.mu.Lock()
		m.synced[st.Platform] = st.AvatarURL
		m.mu.Unlock()
	}
}

// Attach subscribes the mirror to cache changes. Each change syncs in its
// own goroutine so slow downloads never block cache notification.
func (m *Mirror) Attach(cache *accounts.Cache) {
	cache.Subscribe(func() {
		statuses := cache.All()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			m.Sync(ctx, statuses)
		}()
	})
}

func (m *Mirror) mirrorOne(ctx context.Context, p platform.Platform, avatarURL string) error {
	if !strings.HasPrefix(avatarURL, "http://") && !strings.HasPrefix(avatarURL, "https://") {
		return fmt.Errorf("unsupported avatar url %q", avatarURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("avatar fetch returned %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := ObjectKey(p, avatarURL)
	if err := m.store.UploadFile(ctx, key, resp.Body, resp.ContentLength, contentType); err != nil {
		return err
	}
	logger.Debugf("avatars: mirrored %s avatar to %s", p, key)
	return nil
}
