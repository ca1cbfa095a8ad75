// Package notify delivers announcement notifications to a DingTalk group robot
// and mirrors them onto the event stream.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// ErrDisabled is returned when notifications are turned off.
var ErrDisabled = errors.New("notifications disabled")

// Sender delivers a markdown message.
type Sender interface {
	Send(ctx context.Context, title, markdown string) error
}

// Config configures the DingTalk robot.
type Config struct {
	Enabled   bool
	Webhook   string
	Secret    string
	Timeout   time.Duration
	PerMinute int
}

// DefaultConfig mirrors the robot's documented limits.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		PerMinute: 20,
	}
}

// APIError is a non-zero errcode returned by the robot.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dingtalk errcode %d: %s", e.Code, e.Message)
}

// DingTalk sends signed markdown messages to a group robot webhook. It is
// safe for concurrent use.
type DingTalk struct {
	config  Config
	client  *resty.Client
	limiter *rate.Limiter
	log     *logger.Logger
	now     func() time.Time
}

// NewDingTalk creates a robot client.
func NewDingTalk(cfg Config, log *logger.Logger) *DingTalk {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultConfig().PerMinute
	}
	if log == nil {
		log = logger.Default()
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")

	return &DingTalk{
		config:  cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60), cfg.PerMinute),
		log:     log.WithComponent("dingtalk"),
		now:     time.Now,
	}
}

// Enabled reports whether messages will be delivered.
func (d *DingTalk) Enabled() bool {
	return d.config.Enabled && d.config.Webhook != ""
}

type markdownMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

type robotResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send posts a markdown message. It returns ErrDisabled without any request
// when the robot is not configured.
func (d *DingTalk) Send(ctx context.Context, title, markdown string) error {
	if !d.Enabled() {
		return ErrDisabled
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	msg := markdownMessage{MsgType: "markdown"}
	msg.Markdown.Title = title
	msg.Markdown.Text = markdown

	req := d.client.R().SetContext(ctx).SetBody(msg)
	if d.config.Secret != "" {
		ts, sign := Sign(d.config.Secret, d.now())
		req.SetQueryParam("timestamp", ts).SetQueryParam("sign", sign)
	}

	res, err := req.Post(d.config.Webhook)
	if err != nil {
		return fmt.Errorf("failed to post to dingtalk: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("dingtalk returned http %d", res.StatusCode())
	}

	var out robotResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return fmt.Errorf("failed to decode dingtalk response: %w", err)
	}
	if out.ErrCode != 0 {
		return &APIError{Code: out.ErrCode, Message: out.ErrMsg}
	}

	d.log.Debug("dingtalk message sent", "title", title)
	return nil
}

// Sign returns the millisecond timestamp and the base64 HMAC-SHA256 signature
// of "timestamp\nsecret" keyed by secret. The signature is not URL-escaped.
func Sign(secret string, at time.Time) (string, string) {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "\n" + secret))
	return ts, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
