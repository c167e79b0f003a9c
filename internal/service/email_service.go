package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/yourusername/exam-pool/internal/pkg/logger"
	"github.com/yourusername/exam-pool/internal/service/poolcache"
)

const maxSendAttempts = 3

// RecommendationNotifier рассылает сводку рекомендаций по настройке кешей
type RecommendationNotifier interface {
	SendDigest(ctx context.Context, stats poolcache.CacheStats, recs []poolcache.Recommendation) error
}

// NoopNotifier используется, когда рассылка отключена
type NoopNotifier struct {
	Log *logger.Logger
}

func (n *NoopNotifier) SendDigest(ctx context.Context, stats poolcache.CacheStats, recs []poolcache.Recommendation) error {
	if n.Log != nil {
		n.Log.Debug("[Notifier] noop digest", "recommendations", len(recs))
	}
	return nil
}

// emailSender - часть resend.EmailsSvc, которой пользуется рассылка
type emailSender interface {
	SendWithOptions(ctx context.Context, params *resend.SendEmailRequest, options *resend.SendEmailOptions) (*resend.SendEmailResponse, error)
}

// ResendNotifier отправляет сводку через Resend REST API
type ResendNotifier struct {
	from   string
	to     []string
	sender emailSender
	log    *logger.Logger
}

func NewResendNotifier(apiKey, from string, to []string, log *logger.Logger) (*ResendNotifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email from is required")
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("digest recipients are required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ResendNotifier{
		from:   from,
		to:     to,
		sender: resend.NewClient(apiKey).Emails,
		log:    log,
	}, nil
}

// SendDigest отправляет письмо, только если есть рекомендации
func (n *ResendNotifier) SendDigest(ctx context.Context, stats poolcache.CacheStats, recs []poolcache.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	text, htmlBody := renderDigest(stats, recs)
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      n.to,
		Subject: fmt.Sprintf("Exam pool cache: %d recommendation(s)", len(recs)),
		Text:    text,
		Html:    htmlBody,
	}
	// Один и тот же набор рекомендаций за день не дублируется
	options := &resend.SendEmailOptions{
		IdempotencyKey: digestIdempotencyKey(stats.GeneratedAt, recs),
	}

	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		_, err := n.sender.SendWithOptions(ctx, params, options)
		if err == nil {
			n.log.Info("[Notifier] Сводка рекомендаций отправлена", "recipients", len(n.to), "recommendations", len(recs))
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func digestIdempotencyKey(at time.Time, recs []poolcache.Recommendation) string {
	codes := make([]string, 0, len(recs))
	for _, r := range recs {
		codes = append(codes, r.Code+"@"+r.Tier)
	}
	return "pool-digest/" + at.UTC().Format("2006-01-02") + "/" + strings.Join(codes, ",")
}

func renderDigest(stats poolcache.CacheStats, recs []poolcache.Recommendation) (string, string) {
	var text, body strings.Builder

	fmt.Fprintf(&text, "Cache stats at %s\n\n", stats.GeneratedAt.UTC().Format(time.RFC3339))
	body.WriteString("<h3>Cache tiers</h3><ul>")
	for _, tier := range stats.Tiers() {
		fmt.Fprintf(&text, "%s: %d/%d entries, hit rate %.2f, evictions %d\n",
			tier.Tier, tier.Entries, tier.Capacity, tier.HitRate, tier.Evictions)
		fmt.Fprintf(&body, "<li><b>%s</b>: %d/%d entries, hit rate %.2f, evictions %d</li>",
			html.EscapeString(tier.Tier), tier.Entries, tier.Capacity, tier.HitRate, tier.Evictions)
	}
	body.WriteString("</ul><h3>Recommendations</h3><ol>")
	text.WriteString("\nRecommendations:\n")
	for i, r := range recs {
		fmt.Fprintf(&text, "%d. [%s] %s: %s\n", i+1, r.Severity, r.Tier, r.Message)
		fmt.Fprintf(&body, "<li>[%s] <b>%s</b>: %s</li>",
			html.EscapeString(r.Severity), html.EscapeString(r.Tier), html.EscapeString(r.Message))
	}
	body.WriteString("</ol>")
	return text.String(), body.String()
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}
