// Package flow performs the HTTP requests of one iteration against the
// authentication service.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/authstress/internal/credential"
	"github.com/wesleyorama2/authstress/internal/credstore"
	"github.com/wesleyorama2/authstress/internal/scenario"
)

// ErrSharedState marks credential store failures. They abort the run.
var ErrSharedState = errors.New("shared credential store failure")

const (
	DefaultRegisterPath = "/auth/register"
	DefaultLoginPath    = "/auth/login"
	DefaultThinkTimeMin = 2 * time.Second
	DefaultThinkTimeMax = 12 * time.Second
)

// Config describes where requests go and how long to pause between
// registration and login.
type Config struct {
	BaseURL      string
	RegisterPath string
	LoginPath    string
	ThinkTimeMin time.Duration
	ThinkTimeMax time.Duration
}

// DefaultConfig returns the standard endpoint paths and a 2-12s think time.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		RegisterPath: DefaultRegisterPath,
		LoginPath:    DefaultLoginPath,
		ThinkTimeMin: DefaultThinkTimeMin,
		ThinkTimeMax: DefaultThinkTimeMax,
	}
}

// Executor runs the request sequence of an iteration. It holds no
// per-iteration state and is shared by all virtual users.
type Executor struct {
	client      *http.Client
	store       credstore.Store
	recorder    Recorder
	log         logrus.FieldLogger
	registerURL string
	loginURL    string
	thinkMin    time.Duration
	thinkMax    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecorder sets the sink for request samples.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// WithSource sets the random source used for think time.
func WithSource(src rand.Source) Option {
	return func(e *Executor) {
		e.rng = rand.New(src)
	}
}

// NewExecutor creates an Executor sending requests with client and
// recording registered credentials in store.
func NewExecutor(cfg Config, client *http.Client, store credstore.Store, opts ...Option) (*Executor, error) {
	if client == nil {
		return nil, errors.New("flow: http client is required")
	}
	if store == nil {
		return nil, errors.New("flow: credential store is required")
	}
	if cfg.ThinkTimeMin < 0 || cfg.ThinkTimeMax < cfg.ThinkTimeMin {
		return nil, fmt.Errorf("flow: invalid think time range [%s, %s]", cfg.ThinkTimeMin, cfg.ThinkTimeMax)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("flow: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("flow: base URL %q must use http or https", cfg.BaseURL)
	}

	registerPath := cfg.RegisterPath
	if registerPath == "" {
		registerPath = DefaultRegisterPath
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	e := &Executor{
		client:      client,
		store:       store,
		log:         logrus.StandardLogger(),
		registerURL: joinURL(cfg.BaseURL, registerPath),
		loginURL:    joinURL(cfg.BaseURL, loginPath),
		thinkMin:    cfg.ThinkTimeMin,
		thinkMax:    cfg.ThinkTimeMax,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run performs the iteration described by decision with cred.
//
// A transport failure ends the iteration early and is reported on the
// Response, never as an error. The returned error is non-nil only for
// credential store failures, which wrap ErrSharedState.
//
// Requests already sent are not aborted when ctx is cancelled; only the
// think time pause is, and the login is then skipped.
func (e *Executor) Run(ctx context.Context, decision scenario.Decision, cred credential.Credential) (*Result, error) {
	result := &Result{}
	log := e.log.WithFields(logrus.Fields{
		"username": cred.Username,
		"scenario": decision.Kind.String(),
	})

	if decision.Registers() {
		resp := e.post(ctx, decision.RegisterTag(), http.StatusOK, e.registerURL, registerPayload{
			Username:    cred.Username,
			Password:    cred.Password,
			DisplayName: cred.DisplayName,
		})
		result.Register = resp

		if resp.Failed() {
			log.WithField("tag", resp.Tag).WithError(resp.Err).Warn("registration request failed")
			return result, nil
		}

		if err := e.store.Put(context.WithoutCancel(ctx), cred.Username, cred.Password); err != nil {
			return result, fmt.Errorf("%w: storing %q: %w", ErrSharedState, cred.Username, err)
		}

		if !e.think(ctx) {
			result.Interrupted = true
			return result, nil
		}
	}

	resp := e.post(ctx, decision.LoginTag(), expectedLoginStatus(decision), e.loginURL, loginPayload{
		Username: cred.Username,
		Password: cred.Password,
	})
	result.Login = resp
	if resp.Failed() {
		log.WithField("tag", resp.Tag).WithError(resp.Err).Warn("login request failed")
	}

	return result, nil
}

// ThinkTime draws a pause uniformly from the configured range.
func (e *Executor) ThinkTime() time.Duration {
	span := e.thinkMax - e.thinkMin
	if span <= 0 {
		return e.thinkMin
	}

	e.mu.Lock()
	d := e.rng.Int64N(int64(span) + 1)
	e.mu.Unlock()

	return e.thinkMin + time.Duration(d)
}

// think pauses the calling iteration. It returns false when ctx was
// cancelled first.
func (e *Executor) think(ctx context.Context) bool {
	d := e.ThinkTime()
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) post(ctx context.Context, tag string, expected int, target string, payload any) *Response {
	resp := &Response{Tag: tag}

	body, err := json.Marshal(payload)
	if err != nil {
		resp.Err = fmt.Errorf("failed to encode request: %w", err)
		e.record(resp, expected, 0)
		return resp
	}

	// In-flight requests outlive run cancellation; the client timeout bounds them.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		resp.Err = fmt.Errorf("failed to build request: %w", err)
		e.record(resp, expected, 0)
		return resp
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := e.client.Do(req)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Err = err
		e.record(resp, expected, 0)
		return resp
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode
	resp.Header = httpResp.Header

	respBody, err := io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	resp.Body = respBody
	if err != nil {
		resp.Err = fmt.Errorf("failed to read response body: %w", err)
	}

	e.record(resp, expected, int64(len(respBody)))
	return resp
}

func (e *Executor) record(resp *Response, expected int, n int64) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordRequest(RequestSample{
		Tag:            resp.Tag,
		Duration:       resp.Duration,
		StatusCode:     resp.StatusCode,
		ExpectedStatus: expected,
		Bytes:          n,
		Err:            resp.Err,
	})
}

func expectedLoginStatus(d scenario.Decision) int {
	if d.ExpectSuccess {
		return http.StatusOK
	}
	return http.StatusUnauthorized
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
