// Package offline is a versioned cache for the application shell. It is an
// http.RoundTripper that answers from the cache first, fills the cache from
// the network, and falls back to an offline page for failed navigations.
package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/logger"
)

// State is the lifecycle stage of a Worker.
type State int32

const (
	StateInstalling State = iota
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// CacheHeader marks responses served from the cache.
const CacheHeader = "X-Offline-Cache"

// Options configures a Worker.
type Options struct {
	// Origin is the base URL the shell assets are fetched from.
	Origin string
	// Version names the cache namespace; changing it is the only invalidation.
	Version     string
	Manifest    []string
	OfflinePage string
	Storage     Storage
	// Transport performs network requests; http.DefaultTransport when nil.
	Transport http.RoundTripper
	Logger    *logrus.Logger
	// StoreTimeout bounds background cache writes.
	StoreTimeout time.Duration
}

// Worker caches the application shell.
type Worker struct {
	origin       *url.URL
	version      string
	manifest     []string
	offlinePage  string
	storage      Storage
	next         http.RoundTripper
	logger       *logrus.Logger
	storeTimeout time.Duration

	state   atomic.Int32
	pending sync.WaitGroup
}

var _ http.RoundTripper = (*Worker)(nil)

// New builds a Worker in the installing state.
func New(opts Options) (*Worker, error) {
	origin, err := url.Parse(strings.TrimRight(opts.Origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse asset origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("asset origin %q must be an absolute url", opts.Origin)
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("cache version is required")
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.OfflinePage == "" {
		opts.OfflinePage = "/offline.html"
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	w := &Worker{
		origin:       origin,
		version:      opts.Version,
		manifest:     append([]string(nil), opts.Manifest...),
		offlinePage:  opts.OfflinePage,
		storage:      opts.Storage,
		next:         opts.Transport,
		logger:       logger.OrDefault(opts.Logger),
		storeTimeout: opts.StoreTimeout,
	}
	w.state.Store(int32(StateInstalling))
	return w, nil
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.WithFields(logrus.Fields{
		"state":   s.String(),
		"version": w.version,
	}).Info("offline: state changed")
}

// URL resolves an asset path against the origin.
func (w *Worker) URL(path string) string {
	rel := &url.URL{Path: w.origin.Path + "/" + strings.TrimLeft(path, "/")}
	return w.origin.ResolveReference(rel).String()
}

// Install pre-caches every manifest path. Each asset is fetched and stored on
// its own; failures are logged and do not fail the install. The worker then
// moves straight to activating.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	cached := 0
	for _, path := range w.manifest {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.precache(ctx, path); err != nil {
			w.logger.WithError(err).WithField("path", path).Warn("offline: precache failed")
			continue
		}
		cached++
	}
	w.logger.WithFields(logrus.Fields{
		"cached":   cached,
		"manifest": len(w.manifest),
	}).Info("offline: install complete")
	w.setState(StateActivating)
	return nil
}

func (w *Worker) precache(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL(path), nil)
	if err != nil {
		return err
	}
	resp, err := w.next.RoundTrip(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return w.storage.Put(ctx, w.version, cacheKey(req.URL), newEntry(resp, body))
}

// Activate deletes every namespace other than the current version and starts
// serving from the cache immediately.
func (w *Worker) Activate(ctx context.Context) error {
	if w.State() == StateInstalling {
		return errors.New("offline: activate before install")
	}
	namespaces, err := w.storage.Namespaces(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("offline: list namespaces")
	}
	for _, ns := range namespaces {
		if ns == w.version {
			continue
		}
		if err := w.storage.DeleteNamespace(ctx, ns); err != nil {
			w.logger.WithError(err).WithField("namespace", ns).Warn("offline: delete stale namespace")
			continue
		}
		w.logger.WithField("namespace", ns).Info("offline: deleted stale namespace")
	}
	w.setState(StateActive)
	return nil
}

// Start installs and activates.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

// RoundTrip implements the fetch strategy. Before activation, and for non-HTTP
// schemes, requests go straight to the network.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if w.State() != StateActive || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return w.next.RoundTrip(req)
	}
	ctx := req.Context()
	key := cacheKey(req.URL)

	if req.Method == http.MethodGet {
		entry, ok, err := w.storage.Get(ctx, w.version, key)
		if err != nil {
			w.logger.WithError(err).WithField("key", key).Warn("offline: cache lookup failed")
		}
		if ok {
			return entry.response(req), nil
		}
	}

	resp, err := w.next.RoundTrip(req)
	if err != nil {
		if IsNavigation(req) {
			if page, ok := w.offlineResponse(req); ok {
				w.logger.WithError(err).WithField("url", key).Info("offline: serving offline page")
				return page, nil
			}
		}
		return nil, err
	}

	if req.Method == http.MethodGet && resp.StatusCode == http.StatusOK && w.sameOrigin(req.URL) {
		resp.Body = w.capture(resp, key)
	}
	return resp, nil
}

func (w *Worker) offlineResponse(req *http.Request) (*http.Response, bool) {
	u, err := url.Parse(w.URL(w.offlinePage))
	if err != nil {
		return nil, false
	}
	entry, ok, err := w.storage.Get(context.WithoutCancel(req.Context()), w.version, cacheKey(u))
	if err != nil || !ok {
		return nil, false
	}
	return entry.response(req), true
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

// capture tees the response body and stores a copy once the whole body has
// been seen. A caller that closes early leaves the remainder to be drained in
// the background. Writes happen on tracked goroutines and never delay the
// response.
func (w *Worker) capture(resp *http.Response, key string) io.ReadCloser {
	header := resp.Header.Clone()
	status := resp.StatusCode
	return &teeBody{
		src:     resp.Body,
		pending: &w.pending,
		store: func(body []byte) {
			entry := &Entry{Status: status, Header: header, Body: body, StoredAt: time.Now().UTC()}
			w.pending.Add(1)
			go func() {
				defer w.pending.Done()
				ctx, cancel := context.WithTimeout(context.Background(), w.storeTimeout)
				defer cancel()
				if err := w.storage.Put(ctx, w.version, key, entry); err != nil {
					w.logger.WithError(err).WithField("key", key).Warn("offline: cache write failed")
				}
			}()
		},
		fail: func(err error) {
			w.logger.WithError(err).WithField("key", key).Debug("offline: response not cached")
		},
	}
}

// Wait blocks until every background cache write has finished.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// MaxEntrySize bounds the body of a cached response.
const MaxEntrySize = 8 << 20

var errEntryTooLarge = errors.New("response exceeds cache entry limit")

type teeBody struct {
	src     io.ReadCloser
	buf     bytes.Buffer
	pending *sync.WaitGroup
	store   func([]byte)
	fail    func(error)

	eof      bool
	overflow bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	t.keep(p[:n])
	if errors.Is(err, io.EOF) && !t.eof {
		t.eof = true
		t.finish(nil)
	}
	return n, err
}

func (t *teeBody) keep(p []byte) {
	if t.overflow {
		return
	}
	if t.buf.Len()+len(p) > MaxEntrySize {
		t.overflow = true
		t.buf.Reset()
		return
	}
	t.buf.Write(p)
}

func (t *teeBody) finish(err error) {
	switch {
	case err != nil:
		t.fail(err)
	case t.overflow:
		t.fail(errEntryTooLarge)
	default:
		t.store(append([]byte(nil), t.buf.Bytes()...))
	}
}

// Close returns at once. When the body was not read to the end, the rest is
// read on a tracked goroutine before the source is closed.
func (t *teeBody) Close() error {
	if t.eof || t.overflow {
		return t.src.Close()
	}
	t.eof = true
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		defer t.src.Close()
		chunk := make([]byte, 32<<10)
		for {
			n, err := t.src.Read(chunk)
			t.keep(chunk[:n])
			if errors.Is(err, io.EOF) {
				t.finish(nil)
				return
			}
			if err != nil {
				t.finish(err)
				return
			}
			if t.overflow {
				t.finish(nil)
				return
			}
		}
	}()
	return nil
}

// IsNavigation reports whether req loads a document rather than a subresource.
func IsNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

// MarkNavigation flags req as a document load.
func MarkNavigation(req *http.Request) {
	req.Header.Set("Sec-Fetch-Mode", "navigate")
}

func cacheKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func newEntry(resp *http.Response, body []byte) *Entry {
	return &Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
}

func (e *Entry) response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(CacheHeader, "hit")
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
