package watcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed serves the protocol subset: query, registration index,
// flatcontainer.
type fakeFeed struct {
	id       string
	version  string
	failWith int32 // when non-zero, every request returns this status
	requests int64
}

func (f *fakeFeed) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.requests, 1)
		if code := atomic.LoadInt32(&f.failWith); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		switch {
		case r.URL.Path == "/query":
			fmt.Fprintf(w, `{"data":[{"id":%q,"version":%q}]}`, f.id, f.version)
		case r.URL.Path == "/registration/"+f.id+"/index.json":
			fmt.Fprintf(w, `{"items":[{"items":[{"catalogEntry":{"id":%q,"version":"1.0.0"}},{"catalogEntry":{"id":%q,"version":%q}}]}]}`, f.id, f.id, f.version)
		case r.URL.Path == fmt.Sprintf("/flatcontainer/%s/%s/%s.%s.zip", f.id, f.version, f.id, f.version):
			w.Write([]byte("PK fake archive bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestPoller(t *testing.T, serverURL string) *FeedPoller {
	t.Helper()
	return NewFeedPoller(FeedOptions{
		Client:       NewFeedClient(serverURL, "", ""),
		PollInterval: time.Hour, // tests drive pollOnce directly
		DownloadPath: t.TempDir(),
		Retention:    24 * time.Hour,
	})
}

func TestFeedPollerDownloadsNewVersion(t *testing.T) {
	feed := &fakeFeed{id: "x", version: "1.0.2"}
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	p := newTestPoller(t, server.URL)
	p.lastKnown["x"] = "1.0.1"

	p.pollOnce(context.Background())

	select {
	case tr := <-p.Triggers():
		require.Len(t, tr.Artifacts, 1)
		a := tr.Artifacts[0]
		assert.Equal(t, "x", a.ID)
		assert.Equal(t, "1.0.2", a.Version)
		assert.Equal(t, filepath.Join(p.opts.DownloadPath, "x", "1.0.2", "x.1.0.2.zip"), a.Path)
		assert.NotEmpty(t, a.Hash)
		_, err := os.Stat(a.Path)
		assert.NoError(t, err)
	default:
		t.Fatal("expected a trigger for the new version")
	}
}

func TestFeedPollerSameVersionNoTrigger(t *testing.T) {
	feed := &fakeFeed{id: "x", version: "1.0.2"}
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	p := newTestPoller(t, server.URL)
	p.pollOnce(context.Background())
	<-p.Triggers() // first poll downloads

	p.pollOnce(context.Background())
	select {
	case <-p.Triggers():
		t.Fatal("unchanged feed response must not produce a reload")
	default:
	}
}

func TestFeedPollerCircuitBreakerOpens(t *testing.T) {
	feed := &fakeFeed{id: "x", version: "1.0.2"}
	atomic.StoreInt32(&feed.failWith, http.StatusInternalServerError)
	server := httptest.NewServer(feed.handler())
	defer server.Close()

	p := newTestPoller(t, server.URL)
	for i := 0; i < breakerThreshold; i++ {
		p.pollOnce(context.Background())
	}
	assert.False(t, p.breaker.allow(), "breaker must be open after consecutive failures")

	// While open, polls do not reach the feed.
	before := atomic.LoadInt64(&feed.requests)
	p.pollOnce(context.Background())
	assert.Equal(t, before, atomic.LoadInt64(&feed.requests))
}

func TestFeedPollerNotFoundNotCounted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/query" {
			fmt.Fprint(w, `{"data":[{"id":"ghost","version":""}]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestPoller(t, server.URL)
	for i := 0; i < breakerThreshold+2; i++ {
		p.pollOnce(context.Background())
	}
	assert.True(t, p.breaker.allow(), "404 on a package must not trip the breaker")
}

func TestFeedClientBasicAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	c := NewFeedClient(server.URL, "deploy", "s3cret")
	_, err := c.Search(context.Background(), "acme", 10)
	require.NoError(t, err)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("deploy:s3cret"))
	assert.Equal(t, want, gotAuth)
}

func TestFeedClientStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewFeedClient(server.URL, "", "")
	_, err := c.Search(context.Background(), "", 10)
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

func TestCleanupRemovesStaleDirs(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "x", "1.0.0")
	fresh := filepath.Join(root, "x", "1.0.2")
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.MkdirAll(fresh, 0755))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	p := NewFeedPoller(FeedOptions{
		Client:       NewFeedClient("http://unused", "", ""),
		DownloadPath: root,
		Retention:    24 * time.Hour,
	})
	p.cleanup()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale version dir should be removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh version dir should remain")
}

func TestCircuitBreakerResetsAfterCooldown(t *testing.T) {
	b := circuitBreaker{threshold: 2, cooldown: 50 * time.Millisecond}
	logger := NewFeedPoller(FeedOptions{Client: NewFeedClient("http://unused", "", "")}).logger

	b.failure(logger)
	b.failure(logger)
	assert.False(t, b.allow())

	time.Sleep(80 * time.Millisecond)
	assert.True(t, b.allow(), "breaker resumes after cooldown")
	assert.Equal(t, 0, b.failures, "failure count resets on expiry")
}
