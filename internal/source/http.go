package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tgdump-go/internal/archive"
)

// HTTPError is a non-2xx response from the bridge that was not retried.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// messagePage is one page of a message or reply listing.
type messagePage struct {
	Messages   []*archive.Message `json:"messages"`
	NextCursor *string            `json:"next_cursor"`
}

// HTTPSource reads conversations from a JSON bridge in front of the chat
// service. Requests carry a bearer token, pass through a client-side token
// bucket, and are retried on 429 and 5xx responses.
//
// Each conversation has its own token bucket. Lookups by name share a
// separate one.
type HTTPSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
	rateLimit  rate.Limit
	burst      int
	logger     archive.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Options tunes an HTTPSource. Zero values select the defaults.
type Options struct {
	Token string
	// RequestsPerSecond caps the request rate per conversation; 0 disables the cap.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            archive.Logger
}

// NewHTTPSource creates a source talking to the bridge at baseURL.
func NewHTTPSource(baseURL string, opts Options) *HTTPSource {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8081"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit, burst := rate.Inf, 0
	if opts.RequestsPerSecond > 0 {
		limit, burst = rate.Limit(opts.RequestsPerSecond), opts.Burst
		if burst <= 0 {
			burst = 1
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = archive.NewNopLogger()
	}

	return &HTTPSource{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		rateLimit:  limit,
		burst:      burst,
		logger:     logger,
		limiters:   make(map[int64]*rate.Limiter),
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   30 * time.Second,
	}
}

func (s *HTTPSource) ResolveConversation(ctx context.Context, name string) (*archive.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("conversation name is empty")
	}

	var raw json.RawMessage
	if err := s.doJSON(ctx, lookupBucket, "/v1/conversations/"+url.PathEscape(name), &raw); err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, err)
	}

	conv := &archive.Conversation{}
	if err := json.Unmarshal(raw, conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %q: %w", name, err)
	}
	if conv.ID == 0 {
		return nil, fmt.Errorf("resolving %q: response has no id", name)
	}
	if conv.Name == "" {
		conv.Name = name
	}
	if len(conv.Info) == 0 {
		conv.Info = raw
	}
	return conv, nil
}

func (s *HTTPSource) ListMessages(ctx context.Context, conv *archive.Conversation, since *time.Time) ([]*archive.Message, error) {
	q := url.Values{}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	path := fmt.Sprintf("/v1/conversations/%d/messages", conv.ID)
	msgs, err := s.listPages(ctx, conv.ID, path, q)
	if err != nil {
		return nil, fmt.Errorf("listing messages of %d: %w", conv.ID, err)
	}
	return msgs, nil
}

func (s *HTTPSource) ListReplies(ctx context.Context, conv *archive.Conversation, threadRootID int64) ([]*archive.Message, error) {
	path := fmt.Sprintf("/v1/conversations/%d/messages/%d/replies", conv.ID, threadRootID)
	msgs, err := s.listPages(ctx, conv.ID, path, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("listing replies to %d in %d: %w", threadRootID, conv.ID, err)
	}
	return msgs, nil
}

// DownloadMedia streams a document to w. Only failures before the first body
// byte are retried, since a partial write cannot be taken back.
func (s *HTTPSource) DownloadMedia(ctx context.Context, conv *archive.Conversation, doc *archive.Document, w io.Writer) (int64, error) {
	if doc == nil {
		return 0, fmt.Errorf("message has no document")
	}
	path := fmt.Sprintf("/v1/conversations/%d/media/%d", conv.ID, doc.ID)

	resp, err := s.do(ctx, conv.ID, path)
	if err != nil {
		return 0, fmt.Errorf("downloading document %d: %w", doc.ID, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading document %d: %w", doc.ID, err)
	}
	return n, nil
}

// listPages follows next_cursor until the listing is exhausted. A cursor
// seen earlier in the same listing is an error.
func (s *HTTPSource) listPages(ctx context.Context, bucket int64, path string, q url.Values) ([]*archive.Message, error) {
	var all []*archive.Message
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		requestPath := path
		if len(q) > 0 {
			requestPath += "?" + q.Encode()
		}

		var body messagePage
		if err := s.doJSON(ctx, bucket, requestPath, &body); err != nil {
			return nil, err
		}
		for i, m := range body.Messages {
			if m == nil {
				return nil, fmt.Errorf("page %d, message %d: %w", page, i, archive.ErrNullRecord)
			}
		}
		all = append(all, body.Messages...)

		if body.NextCursor == nil || *body.NextCursor == "" {
			return all, nil
		}
		cursor := *body.NextCursor
		if _, dup := seen[cursor]; dup {
			return nil, fmt.Errorf("bridge returned cursor %q twice", cursor)
		}
		seen[cursor] = struct{}{}
		q.Set("cursor", cursor)
	}
}

func (s *HTTPSource) doJSON(ctx context.Context, bucket int64, requestPath string, out any) error {
	resp, err := s.do(ctx, bucket, requestPath)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// lookupBucket is the token bucket of requests not tied to a conversation id.
const lookupBucket int64 = 0

// limiter returns the token bucket of a conversation, creating it on first use.
func (s *HTTPSource) limiter(bucket int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[bucket]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[bucket] = l
	}
	return l
}

// do performs a GET, retrying transport errors, 429 and 5xx responses. On
// success the caller owns the response body.
func (s *HTTPSource) do(ctx context.Context, bucket int64, requestPath string) (*http.Response, error) {
	limiter := s.limiter(bucket)
	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+requestPath, nil)
		if err != nil {
			return nil, err
		}
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < s.maxRetries {
				delay := s.retryDelay(attempt+1, "")
				s.logger.Warn("request failed, retrying", "path", requestPath, "error", err, "delay", delay)
				if waitErr := waitWithContext(ctx, delay); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return resp, nil
		}

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < s.maxRetries {
			delay := s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))
			s.logger.Warn("bridge busy, retrying", "path", requestPath, "status", resp.StatusCode, "delay", delay)
			if waitErr := waitWithContext(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (s *HTTPSource) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > s.maxDelay {
			return s.maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ archive.MessageSource = (*HTTPSource)(nil)
