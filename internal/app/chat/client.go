// Package chat is the REST client for the chat server.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/pkg/errs"
	"github.com/cwrk-planet/room-client/pkg/httputil"
	"github.com/cwrk-planet/room-client/pkg/logger"
)

const DefaultBaseURL = "http://dummy-chat-server.tribechat.pro/api"

type Options struct {
	BaseURL    string
	Timeout    time.Duration // на один запрос
	RPS        float64       // 0 = без ограничения
	Burst      int
	HTTPClient *http.Client
}

type Client struct {
	base    string
	hc      *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	log     *slog.Logger
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chat client: %w: bad base url %q", errs.ErrInvalidInput, opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		hc:      opts.HTTPClient,
		timeout: opts.Timeout,
		limiter: limiter,
		log:     logger.With("chat_client"),
	}, nil
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) Info(ctx context.Context) (domain.ServerInfo, error) {
	var out domain.ServerInfo
	err := c.do(ctx, http.MethodGet, "/info", nil, &out)
	return out, err
}

// Ping is a cheap reachability check used by the connectivity prober.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Info(ctx)
	return err
}

func (c *Client) LatestMessages(ctx context.Context) ([]domain.Message, error) {
	return c.messages(ctx, "/messages/latest")
}

func (c *Client) OlderMessages(ctx context.Context, refUUID string) ([]domain.Message, error) {
	return c.messages(ctx, "/messages/older/"+url.PathEscape(refUUID))
}

func (c *Client) MessageUpdates(ctx context.Context, since int64) ([]domain.Message, error) {
	return c.messages(ctx, "/messages/updates/"+strconv.FormatInt(since, 10))
}

func (c *Client) AllParticipants(ctx context.Context) ([]domain.Participant, error) {
	return c.participants(ctx, "/participants/all")
}

func (c *Client) ParticipantUpdates(ctx context.Context, since int64) ([]domain.Participant, error) {
	return c.participants(ctx, "/participants/updates/"+strconv.FormatInt(since, 10))
}

func (c *Client) SendMessage(ctx context.Context, text, replyTo string) (domain.Message, error) {
	var out messageJSON
	if err := c.do(ctx, http.MethodPost, "/messages/new", sendMessageRequest{Text: text, ReplyToMessage: replyTo}, &out); err != nil {
		return domain.Message{}, err
	}
	return c.single(out, "/messages/new")
}

func (c *Client) AddReaction(ctx context.Context, messageUUID, value string) (domain.Message, error) {
	path := "/messages/" + url.PathEscape(messageUUID) + "/reactions"
	var out messageJSON
	if err := c.do(ctx, http.MethodPost, path, addReactionRequest{Value: value}, &out); err != nil {
		return domain.Message{}, err
	}
	return c.single(out, path)
}

func (c *Client) single(in messageJSON, path string) (domain.Message, error) {
	m, ok := domain.SanitizeMessage(in.toDomain())
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: POST %s: response without uuid", errs.ErrUpstream, path)
	}
	return m, nil
}

func (c *Client) messages(ctx context.Context, path string) ([]domain.Message, error) {
	var out []messageJSON
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return toMessages(out), nil
}

func (c *Client) participants(ctx context.Context, path string) ([]domain.Participant, error) {
	var out []domain.Participant
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return domain.SanitizeParticipants(out), nil
}

// do sends one request. Transport failures map to errs.ErrUnavailable,
// non-2xx answers and undecodable bodies to errs.ErrUpstream.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %v", errs.ErrUnavailable, err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := httputil.RequestID(ctx)
	req.Header.Set(httputil.HeaderRequestID, reqID)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", errs.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "upstream_request",
		"req_id", reqID,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", errs.ErrUpstream, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", errs.ErrUpstream, method, path, err)
	}
	return nil
}
