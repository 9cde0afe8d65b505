// Package mirror keeps a client's session credential in step with its
// identity-provider sign-in state by driving the exchange endpoint.
//
// Transitions are processed one at a time, in the order they were reported,
// so the exposed identity never disagrees with the cookie jar.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/joestump/learnhub/internal/auth"
)

// DefaultExchangePath is where the exchange endpoint is mounted.
const DefaultExchangePath = "/api/auth/session"

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("mirror: already running")

type eventKind int

const (
	signedIn eventKind = iota + 1
	signedOut
)

type event struct {
	kind  eventKind
	token string
}

// State is the mirrored auth state. Identity is nil whenever Err is set.
type State struct {
	Identity *auth.Identity
	Err      error
}

// SignedIn reports whether the state carries an identity.
func (s State) SignedIn() bool { return s.Identity != nil }

// ExchangeError is a non-success response from the exchange endpoint.
type ExchangeError struct {
	Status  int
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange endpoint returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the endpoint's error code back to the auth sentinel.
func (e *ExchangeError) Unwrap() error {
	switch e.Code {
	case "invalid_credential":
		return auth.ErrInvalidCredential
	case "missing_credential":
		return auth.ErrMissingCredential
	case "provider_unavailable":
		return auth.ErrProviderUnavailable
	}
	return nil
}

// Config configures a Mirror.
type Config struct {
	// BaseURL is the site root, e.g. "https://learn.example.com".
	BaseURL string
	// ExchangePath defaults to DefaultExchangePath.
	ExchangePath string
	// LandingPath is where Navigate is sent after sign-out. Defaults to "/".
	LandingPath string
	// HTTPClient is used for exchange calls. A cookie jar is attached when
	// it has none.
	HTTPClient *http.Client
	// Navigate is called with LandingPath after a sign-out. Optional.
	Navigate func(path string)
	// QueueSize bounds pending transitions. Defaults to 16.
	QueueSize int
}

// Mirror serializes sign-in/sign-out transitions against the exchange
// endpoint and exposes the resulting state.
type Mirror struct {
	endpoint string
	landing  string
	client   *http.Client
	navigate func(string)
	events   chan event
	running  atomic.Bool
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	lastQueued event
	subs       map[chan State]struct{}
}

// New creates a Mirror. Call Run to start processing transitions.
func New(cfg Config, log *slog.Logger) (*Mirror, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("mirror: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.ExchangePath == "" {
		cfg.ExchangePath = DefaultExchangePath
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("mirror: cookie jar: %w", err)
		}
		client.Jar = jar
	}

	return &Mirror{
		endpoint: base.ResolveReference(&url.URL{Path: cfg.ExchangePath}).String(),
		landing:  cfg.LandingPath,
		client:   client,
		navigate: cfg.Navigate,
		events:   make(chan event, cfg.QueueSize),
		log:      log,
		subs:     make(map[chan State]struct{}),
	}, nil
}

// Client returns the HTTP client whose cookie jar holds the credential.
func (m *Mirror) Client() *http.Client { return m.client }

// State returns the current snapshot.
func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel delivering each new state, latest-wins, and a
// function that ends the subscription.
func (m *Mirror) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}

// SignedIn reports a provider sign-in carrying providerToken.
func (m *Mirror) SignedIn(ctx context.Context, providerToken string) error {
	return m.enqueue(ctx, event{kind: signedIn, token: providerToken})
}

// SignedOut reports a provider sign-out.
func (m *Mirror) SignedOut(ctx context.Context) error {
	return m.enqueue(ctx, event{kind: signedOut})
}

// enqueue drops a transition identical to the previous one; the provider
// reports at most one event per actual state change.
func (m *Mirror) enqueue(ctx context.Context, e event) error {
	m.mu.Lock()
	if e == m.lastQueued {
		m.mu.Unlock()
		return nil
	}
	m.lastQueued = e
	m.mu.Unlock()

	select {
	case m.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes transitions until ctx is done. Each transition, including
// its exchange call, completes before the next one starts.
func (m *Mirror) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-m.events:
			switch e.kind {
			case signedIn:
				m.handleSignedIn(ctx, e.token)
			case signedOut:
				m.handleSignedOut(ctx)
			}
		}
	}
}

func (m *Mirror) handleSignedIn(ctx context.Context, token string) {
	id, err := m.exchange(ctx, token)
	if err != nil {
		// A failed sign-in may be retried with the same provider token.
		m.forget(event{kind: signedIn, token: token})
		m.publish(State{Err: err})
		return
	}
	m.publish(State{Identity: id})
}

func (m *Mirror) exchange(ctx context.Context, token string) (*auth.Identity, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn("credential exchange request failed", "error", err)
		return nil, fmt.Errorf("%w: %w", auth.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		xerr := readExchangeError(resp)
		m.log.Info("credential exchange rejected", "status", resp.StatusCode, "code", xerr.Code)
		return nil, xerr
	}

	var id auth.Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}

func (m *Mirror) handleSignedOut(ctx context.Context) {
	var state State
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.endpoint, nil)
	if err == nil {
		var resp *http.Response
		resp, err = m.client.Do(req)
		if err == nil {
			if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
				err = readExchangeError(resp)
			}
			resp.Body.Close()
		}
	}
	if err != nil {
		m.log.Warn("credential delete failed", "error", err)
		// The cookie may still be in the jar; a repeated sign-out must reach
		// the endpoint again.
		m.forget(event{kind: signedOut})
		state.Err = err
	}
	m.publish(state)

	if m.navigate != nil {
		m.navigate(m.landing)
	}
}

func readExchangeError(resp *http.Response) *ExchangeError {
	xerr := &ExchangeError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, &body) == nil {
		xerr.Code, xerr.Message = body.Code, body.Error
	}
	if xerr.Message == "" {
		xerr.Message = http.StatusText(resp.StatusCode)
	}
	return xerr
}

func (m *Mirror) forget(e event) {
	m.mu.Lock()
	if m.lastQueued == e {
		m.lastQueued = event{}
	}
	m.mu.Unlock()
}

func (m *Mirror) publish(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	for ch := range m.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
