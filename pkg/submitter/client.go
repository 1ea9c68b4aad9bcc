package submitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"bushu/internal/model"
	"bushu/pkg/config"
	"bushu/pkg/logger"
)

const (
	MessageSuccess = "提交成功"

	maxBodyBytes = 1 << 20
	maxRawLength = 3000
)

// authMarkers are body fragments the remote site uses for rejected credentials
var authMarkers = []string{"密码错误", "账号或密码", "账号不存在", "登录失败", "invalid password", "unauthorized"}

// Outcome result of one remote submission
type Outcome struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Raw        string `json:"raw,omitempty"`
}

// Client posts step counts to the remote step-counting site
type Client struct {
	cfg        config.SubmitterConfig
	httpClient *http.Client
}

// NewClient creates a submitter from configuration. httpClient may be nil.
func NewClient(cfg config.SubmitterConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.PostURL == "" {
		cfg.PostURL = cfg.BaseURL
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Submit sends one form post. A non-nil error is always a *model.SubmissionError;
// the returned Outcome is non-nil whenever the remote answered.
func (c *Client) Submit(ctx context.Context, account, password string, steps int) (*Outcome, error) {
	// cookies from the warm-up GET are scoped to this submission
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Transport:     c.httpClient.Transport,
		Timeout:       c.httpClient.Timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           jar,
	}

	if c.cfg.WarmUp == nil || *c.cfg.WarmUp {
		c.warmUp(ctx, client)
	}

	form := url.Values{}
	form.Set(c.cfg.FieldAccount, account)
	form.Set(c.cfg.FieldPassword, password)
	form.Set(c.cfg.FieldSteps, strconv.Itoa(steps))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PostURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, networkError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(err)
	}
	text := string(body)

	outcome := &Outcome{
		StatusCode: resp.StatusCode,
		Raw:        truncate(text, maxRawLength),
	}

	if Classify(resp.StatusCode, text) {
		outcome.Success = true
		outcome.Message = MessageSuccess
		logger.DebugCtx(ctx, "submission accepted, account: %s, steps: %d", account, steps)
		return outcome, nil
	}

	outcome.Message = fmt.Sprintf("服务器返回错误: %d", resp.StatusCode)
	kind := model.SubmissionRejected
	if isAuthFailure(resp.StatusCode, text) {
		kind = model.SubmissionAuth
		outcome.Message = fmt.Sprintf("认证失败: %d", resp.StatusCode)
	}
	logger.DebugCtx(ctx, "submission rejected, account: %s, status: %d", account, resp.StatusCode)
	return outcome, &model.SubmissionError{Kind: kind, Message: outcome.Message}
}

// warmUp fetches the base page so session cookies are set. Failures are ignored.
func (c *Client) warmUp(ctx context.Context, client *http.Client) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return
	}
	c.setHeaders(req)
	resp, err := client.Do(req)
	if err != nil {
		logger.DebugCtx(ctx, "warm-up request failed: %v", err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
}

// Classify reports whether a remote response means the steps were accepted.
// A JSON body with success true, code 0/200 or status ok/success wins over the status code.
func Classify(statusCode int, body string) bool {
	ok := statusCode == http.StatusOK &&
		(strings.Contains(body, "成功") || strings.Contains(strings.ToLower(body), "success"))

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		if v, isBool := payload["success"].(bool); isBool && v {
			ok = true
		}
		if code, isNum := payload["code"].(float64); isNum && (code == 0 || code == 200) {
			ok = true
		}
		if status, isStr := payload["status"].(string); isStr && (status == "ok" || status == "success") {
			ok = true
		}
	}
	return ok
}

func isAuthFailure(statusCode int, body string) bool {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func networkError(err error) *model.SubmissionError {
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		msg = "timeout: " + msg
	}
	return &model.SubmissionError{
		Kind:    model.SubmissionNetwork,
		Message: fmt.Sprintf("请求异常: %s", msg),
		Err:     err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
