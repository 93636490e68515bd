package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender delivers a reply to a recipient. Implementations own any
// transport-specific chunking and retry policy; the turn pipeline never
// retries.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// LogSender logs outbound messages instead of delivering them; used when no
// Twilio credentials are configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, body string) error {
	for _, part := range SplitMessage(body) {
		log.Printf("whatsapp (log mode) to %s: %s", to, part)
	}
	return nil
}

// TwilioSender delivers messages through the Twilio REST API, splitting long
// replies and retrying transient failures with capped backoff.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	client     *http.Client
	baseURL    string

	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
	// partPause spaces out multi-part sends so parts arrive in order.
	partPause time.Duration
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	return &TwilioSender{
		accountSID:  accountSID,
		authToken:   authToken,
		from:        from,
		client:      &http.Client{Timeout: 15 * time.Second},
		baseURL:     "https://api.twilio.com",
		maxAttempts: 3,
		retryBase:   500 * time.Millisecond,
		retryCap:    5 * time.Second,
		partPause:   time.Second,
	}
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	parts := SplitMessage(body)
	for i, part := range parts {
		if err := s.sendPart(ctx, to, part); err != nil {
			return err
		}
		if len(parts) > 1 && i < len(parts)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.partPause):
			}
		}
	}
	return nil
}

func (s *TwilioSender) sendPart(ctx context.Context, to, body string) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt-1, s.retryBase, s.retryCap)):
			}
		}

		retryable, err := s.post(ctx, to, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return fmt.Errorf("send after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *TwilioSender) post(ctx context.Context, to, body string) (retryable bool, err error) {
	form := url.Values{}
	form.Set("To", ensureWhatsAppPrefix(to))
	form.Set("From", ensureWhatsAppPrefix(s.from))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	res, err := s.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return false, nil
	}
	detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return isRetryableStatus(res.StatusCode), fmt.Errorf("twilio status %d: %s", res.StatusCode, strings.TrimSpace(string(detail)))
}

func ensureWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
