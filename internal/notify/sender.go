package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/config"
	"github.com/david/bidwatch/internal/logging"
	"github.com/david/bidwatch/internal/metrics"
)

const (
	barkTitle     = "阳光采购近期开标信息"
	barkIcon      = "https://blog.qingwalashi.cn/favicon.ico"
	barkGroup     = "阳光采购"
	barkSound     = "minuet"
	dingTalkTitle = "阳光采购每日摘要"

	sendTimeout = 15 * time.Second
)

// Sender delivers a digest to one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, d Digest) error
}

// BarkSender posts the plain-text digest to a Bark push endpoint.
type BarkSender struct {
	Endpoint  string
	DeviceKey string
	Client    *http.Client
}

func NewBarkSender(endpoint, deviceKey string) *BarkSender {
	return &BarkSender{Endpoint: endpoint, DeviceKey: deviceKey, Client: &http.Client{Timeout: sendTimeout}}
}

func (s *BarkSender) Name() string { return "bark" }

func (s *BarkSender) Send(ctx context.Context, d Digest) error {
	payload := map[string]string{
		"title":      barkTitle,
		"body":       d.PlainText(),
		"device_key": s.DeviceKey,
		"sound":      barkSound,
		"icon":       barkIcon,
		"group":      barkGroup,
	}
	_, err := postJSON(ctx, s.Client, s.Endpoint, payload)
	return err
}

// DingTalkSender posts the markdown digest to a DingTalk robot webhook,
// signing the request when a secret is configured.
type DingTalkSender struct {
	WebhookURL  string
	AccessToken string
	Secret      string
	Client      *http.Client
	Now         func() time.Time
}

func NewDingTalkSender(webhookURL, accessToken, secret string) *DingTalkSender {
	return &DingTalkSender{
		WebhookURL:  webhookURL,
		AccessToken: accessToken,
		Secret:      secret,
		Client:      &http.Client{Timeout: sendTimeout},
		Now:         time.Now,
	}
}

func (s *DingTalkSender) Name() string { return "dingtalk" }

// Sign returns the escaped base64 HMAC-SHA256 of "{timestamp}\n{secret}" keyed by secret.
func Sign(timestampMS int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMS, 10) + "\n" + secret))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func (s *DingTalkSender) endpoint() string {
	u := s.WebhookURL + "?access_token=" + url.QueryEscape(s.AccessToken)
	if s.Secret != "" {
		ts := s.Now().UnixMilli()
		u += "&timestamp=" + strconv.FormatInt(ts, 10) + "&sign=" + Sign(ts, s.Secret)
	}
	return u
}

func (s *DingTalkSender) Send(ctx context.Context, d Digest) error {
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": dingTalkTitle,
			"text":  d.Markdown(),
		},
	}
	body, err := postJSON(ctx, s.Client, s.endpoint(), payload)
	if err != nil {
		return err
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode dingtalk response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return body, nil
}

// SendersFromConfig builds a sender per configured channel. Channels without
// credentials are skipped with a warning.
func SendersFromConfig(cfg config.NotifyConfig, logger *zap.Logger) []Sender {
	logger = logging.OrNop(logger)
	var out []Sender
	if cfg.BarkEnabled() {
		out = append(out, NewBarkSender(cfg.BarkURL, strings.TrimSpace(cfg.BarkKey)))
	} else {
		logger.Warn("BARK_KEY not set, skipping bark push")
	}
	if cfg.DingTalkEnabled() {
		out = append(out, NewDingTalkSender(cfg.DingTalkWebhookURL, cfg.DingTalkAccessToken, cfg.DingTalkSecret))
	} else {
		logger.Warn("dingtalk webhook not configured, skipping dingtalk push")
	}
	return out
}

// Deliver sends d through every sender. A failing channel does not stop the others.
func Deliver(ctx context.Context, d Digest, senders []Sender, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	var errs []error
	for _, s := range senders {
		err := s.Send(ctx, d)
		metrics.ObserveNotification(s.Name(), err)
		if err != nil {
			logger.Warn("push failed", zap.String("channel", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		logger.Info("push sent", zap.String("channel", s.Name()))
	}
	return errors.Join(errs...)
}
