package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/logging"
	"github.com/david/bidwatch/internal/metrics"
	"github.com/david/bidwatch/internal/models"
)

const (
	// MaxSynopsisRunes caps a persisted prjContent.
	MaxSynopsisRunes = 500
	// MaxPromptContentRunes caps detail text embedded in the synopsis prompt.
	MaxPromptContentRunes = 8000
)

// Result is a classification. PrjType is always one of models.ProjectTypes.
type Result struct {
	PrjType    models.ProjectType
	PrjContent string
}

// Fallback is returned whenever the remote call cannot produce a result.
func Fallback() Result {
	return Result{PrjType: models.TypeOther, PrjContent: ""}
}

// RetryPolicy is exponential backoff for rate-limited calls.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Initial: 2 * time.Second, Max: 30 * time.Second}
}

// Classifier assigns project types and synopses through a Completer.
// Calls are sequential; one Classifier must not be shared across goroutines
// that expect independent pacing.
type Classifier struct {
	completer Completer
	pacer     *Pacer
	retry     RetryPolicy
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

type Option func(*Classifier)

func WithPacer(p *Pacer) Option { return func(c *Classifier) { c.pacer = p } }

func WithRetry(p RetryPolicy) Option { return func(c *Classifier) { c.retry = p } }

func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) { c.logger = logging.OrNop(l) }
}

// WithSleep replaces the backoff sleep; tests use it to avoid real waits.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Classifier) { c.sleep = fn }
}

func NewClassifier(completer Completer, opts ...Option) *Classifier {
	c := &Classifier{
		completer: completer,
		retry:     DefaultRetryPolicy(),
		logger:    zap.NewNop(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry.MaxAttempts = 1
	}
	return c
}

// Classify asks for the project type of title. When content is non-blank the
// model is also asked for a short synopsis of it. The returned Result is
// always usable: on any error it is Fallback() and the error says why.
func (c *Classifier) Classify(ctx context.Context, title, content string) (Result, error) {
	req := ChatRequest{System: systemPrompt, JSONObject: true}
	content = strings.TrimSpace(content)
	if content == "" {
		req.User = typePrompt(title)
	} else {
		req.User = synopsisPrompt(title, truncateRunes(content, MaxPromptContentRunes))
	}

	delay := c.retry.Initial
	for attempt := 1; ; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return Fallback(), err
		}

		raw, err := c.completer.Complete(ctx, req)
		if err == nil {
			res, cleaned, perr := ParseResult(raw)
			if perr != nil {
				c.logger.Warn("unparseable classifier output",
					zap.String("title", title),
					zap.String("raw", logging.Preview(raw, 300)),
					zap.String("cleaned", logging.Preview(cleaned, 300)),
					zap.Error(perr))
				metrics.ObserveClassifierCall("malformed")
				return Fallback(), perr
			}
			metrics.ObserveClassifierCall("ok")
			return res, nil
		}

		if !IsRateLimited(err) {
			c.logger.Warn("classifier call failed", zap.String("title", title), zap.Error(err))
			metrics.ObserveClassifierCall("fallback")
			return Fallback(), err
		}
		if attempt >= c.retry.MaxAttempts {
			c.logger.Warn("classifier rate limited, giving up",
				zap.String("title", title), zap.Int("attempts", attempt), zap.Error(err))
			metrics.ObserveClassifierCall("rate_limited")
			return Fallback(), fmt.Errorf("%w: gave up after %d attempts: %v", ErrRateLimited, attempt, err)
		}

		c.logger.Info("classifier rate limited, backing off",
			zap.Int("attempt", attempt), zap.Duration("wait", delay))
		metrics.ObserveClassifierRetry(delay)
		if err := c.sleep(ctx, delay); err != nil {
			return Fallback(), err
		}
		delay *= 2
		if c.retry.Max > 0 && delay > c.retry.Max {
			delay = c.retry.Max
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func typeList() string {
	var b strings.Builder
	for _, t := range models.ProjectTypes {
		b.WriteString("- ")
		b.WriteString(string(t))
		b.WriteString("\n")
	}
	return b.String()
}

const typeRule = "注意：只有明确涉及软件、系统、平台、网络、数据、机房、计算机或其他信息化设备与服务的项目，才能归入前三个信息化类别；缺乏明确信息化特征的项目不得归入信息化类别。"

func typePrompt(title string) string {
	return fmt.Sprintf(`请根据以下项目名称，判断它属于以下哪一类项目：
%s
%s

项目名称：%s

请只返回JSON格式的答案，格式为：{"prjType": "项目类型"}`, typeList(), typeRule, title)
}

func synopsisPrompt(title, content string) string {
	return fmt.Sprintf(`请根据以下项目名称和正文，判断它属于以下哪一类项目，并抽取项目采购内容：
%s
%s

采购内容要求：
- 只基于给定正文，不要编造
- 用中文简洁概括软硬件清单、设备或系统名称、数量或范围、主要模块、交付内容等
- 控制在 80~200 字以内

项目名称：%s

正文（可能包含无关内容，需甄别）：
%s

请只返回JSON格式的答案，格式为：{"prjType": "项目类型", "prjContent": "采购内容"}`, typeList(), typeRule, title, content)
}
