package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

const postmarkDefaultBaseURL = "https://api.postmarkapp.com"

type postmarkEmail struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	ReplyTo       string            `json:"ReplyTo,omitempty"`
	Subject       string            `json:"Subject"`
	HtmlBody      string            `json:"HtmlBody,omitempty"`
	TextBody      string            `json:"TextBody,omitempty"`
	Tag           string            `json:"Tag,omitempty"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
	MessageStream string            `json:"MessageStream,omitempty"`
}

type postmarkResponse struct {
	To          string `json:"To"`
	SubmittedAt string `json:"SubmittedAt"`
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
}

// postmarkError carries the HTTP status so the retry policy can tell
// throttling and outages apart from rejected messages.
type postmarkError struct {
	Status    int
	ErrorCode int
	Message   string
}

func (e *postmarkError) Error() string {
	return fmt.Sprintf("postmark status=%d code=%d: %s", e.Status, e.ErrorCode, e.Message)
}

func (e *postmarkError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type PostmarkProvider struct {
	breakerGuard
	name     string
	baseURL  string
	token    string
	stream   string
	client   *http.Client
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	log      *zap.Logger
}

func NewPostmarkProvider(cfg config.ProviderConfig, log *zap.Logger) *PostmarkProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = postmarkDefaultBaseURL
	}
	attempts := cfg.Retry.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.Retry.Delay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	maxDelay := cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "postmark"
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &PostmarkProvider{
		breakerGuard: newGuard(cfg.Breaker),
		name:         name,
		baseURL:      base,
		token:        cfg.Token,
		stream:       cfg.MessageStream,
		client:       &http.Client{Timeout: timeoutOf(cfg.TimeoutMs)},
		attempts:     attempts,
		delay:        delay,
		maxDelay:     maxDelay,
		log:          log,
	}
}

func (p *PostmarkProvider) Name() string { return p.name }

func (p *PostmarkProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	body, err := json.Marshal(postmarkEmail{
		From:          formatAddress(msg.FromName, msg.From),
		To:            msg.To,
		ReplyTo:       msg.ReplyTo,
		Subject:       msg.Subject,
		HtmlBody:      msg.HTMLBody,
		TextBody:      msg.TextBody,
		Tag:           msg.Tag,
		Metadata:      msg.Metadata,
		MessageStream: p.stream,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal postmark email: %w", err)
	}

	var (
		out  postmarkResponse
		last error
	)
	err = retry.Do(
		func() error {
			out, last = p.post(ctx, body)
			return last
		},
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.MaxDelay(p.maxDelay),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var pe *postmarkError
			if errors.As(err, &pe) {
				return pe.retryable()
			}
			// transport errors (resets, timeouts) are worth another try
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			p.log.Warn("postmark send retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		if last == nil {
			last = err
		}
		p.br.OnFailure()
		return Receipt{}, last
	}

	p.br.OnSuccess()
	return Receipt{Provider: p.name, MessageID: out.MessageID}, nil
}

func (p *PostmarkProvider) post(ctx context.Context, body []byte) (postmarkResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return postmarkResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	res, err := p.client.Do(req)
	if err != nil {
		return postmarkResponse{}, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return postmarkResponse{}, err
	}

	var out postmarkResponse
	_ = json.Unmarshal(raw, &out)

	if res.StatusCode/100 != 2 || out.ErrorCode != 0 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return out, &postmarkError{Status: res.StatusCode, ErrorCode: out.ErrorCode, Message: msg}
	}
	if out.MessageID == "" {
		return out, &postmarkError{Status: res.StatusCode, Message: "response carried no MessageID"}
	}
	return out, nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%q <%s>", name, addr)
}
