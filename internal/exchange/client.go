package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/pkg/ratelimit"
)

var clientLog = logrus.WithField("component", "exchange")

// Result REST 调用的结构化结果。
// 网络/交易所错误不以 error 形式跨组件传播，统一走 Result。
type Result struct {
	Success    bool
	Data       json.RawMessage
	Error      string
	HTTPStatus int
	Code       int // 交易所错误码（例如 -2010 余额不足）
}

// IsVenueRejection 检查是否为交易所层面的拒绝（4xx，不可重试）
func (r *Result) IsVenueRejection() bool {
	return !r.Success && r.HTTPStatus >= 400 && r.HTTPStatus < 500
}

// IsNetworkError 检查是否为网络层错误（超时/断连，可重试）
func (r *Result) IsNetworkError() bool {
	return !r.Success && r.HTTPStatus == 0
}

// Unmarshal 解析 Data 到目标结构
func (r *Result) Unmarshal(v interface{}) error {
	if !r.Success {
		return fmt.Errorf("result not successful: %s", r.Error)
	}
	return json.Unmarshal(r.Data, v)
}

// venueError 交易所错误响应体
type venueError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Config 交易所客户端配置
type Config struct {
	BaseURL        string        // REST 基地址（例如 https://api.binance.com）
	Credentials    Credentials   // API 凭证
	RateLimit      int           // 窗口内允许的请求数
	RateWindow     time.Duration // 速率窗口大小
	RequestTimeout time.Duration // 单次请求超时
	RecvWindow     int64         // 签名请求的 recvWindow（毫秒，0 使用交易所默认）
	QueueSize      int           // 派发队列长度
}

// request 派发队列里的一个请求。
// 注意：签名不在入队时生成，时间戳必须在实际发送时刻取，
// 否则排队等待速率窗口期间时间戳会过期。
type request struct {
	ctx      context.Context
	endpoint string
	method   string
	params   map[string]string
	signed   bool
	resp     chan *Result
}

// Client 交易所 REST 客户端。
// 所有请求经过单一派发循环，循环内串行消费 RateBudget，
// 保证窗口内严格 FIFO，多个调用方并发也不会突破预算。
type Client struct {
	cfg    Config
	http   *resty.Client
	budget *ratelimit.Budget
	queue  chan *request

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	// 错误钩子：网络错误/成功时通知风控的熔断计数
	hookMu    sync.RWMutex
	onNetErr  func()
	onSuccess func()
}

// NewClient 创建交易所客户端
func NewClient(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1200
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	// 重试不交给 resty：传输层重试会复用第一次生成的时间戳和签名，
	// 也绕开速率预算。重试统一在派发循环里走完整发送路径。
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout)

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		budget: ratelimit.NewBudget(cfg.RateLimit, cfg.RateWindow),
		queue:  make(chan *request, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// SetErrorHooks 注册网络错误/成功钩子（用于风控的连续错误熔断计数）
func (c *Client) SetErrorHooks(onNetErr, onSuccess func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onNetErr = onNetErr
	c.onSuccess = onSuccess
}

// Start 启动派发循环
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		clientLog.Infof("交易所客户端启动: base=%s key=%s 限速=%d/%s",
			c.cfg.BaseURL, c.cfg.Credentials.Fingerprint(), c.cfg.RateLimit, c.cfg.RateWindow)
		go c.dispatchLoop(ctx)
	})
}

// Close 停止派发循环。入队中的请求会收到失败结果。
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// Call 发起一次 REST 调用。signed 为 true 时在发送时刻附加时间戳和签名。
// 请求按入队顺序被派发循环处理；速率窗口满了就排队等待，不会被拒绝。
func (c *Client) Call(ctx context.Context, endpoint, method string, params map[string]string, signed bool) *Result {
	req := &request{
		ctx:      ctx,
		endpoint: endpoint,
		method:   method,
		params:   params,
		signed:   signed,
		resp:     make(chan *Result, 1),
	}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		return &Result{Success: false, Error: ctx.Err().Error()}
	case <-c.done:
		return &Result{Success: false, Error: "exchange client closed"}
	}

	select {
	case res := <-req.resp:
		return res
	case <-ctx.Done():
		return &Result{Success: false, Error: ctx.Err().Error()}
	case <-c.done:
		return &Result{Success: false, Error: "exchange client closed"}
	}
}

const (
	maxSendAttempts = 3
	retryBaseWait   = 500 * time.Millisecond
	retryMaxWait    = 5 * time.Second
)

// dispatchLoop 单一派发循环：FIFO 消费队列，先过速率预算再发请求
func (c *Client) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.drainQueue()
			return
		case <-c.done:
			c.drainQueue()
			return
		case req := <-c.queue:
			if req.ctx.Err() != nil {
				req.resp <- &Result{Success: false, Error: req.ctx.Err().Error()}
				continue
			}
			req.resp <- c.send(req)
		}
	}
}

// drainQueue 关停时清空队列，给每个排队请求一个失败结果
func (c *Client) drainQueue() {
	for {
		select {
		case req := <-c.queue:
			req.resp <- &Result{Success: false, Error: "exchange client closed"}
		default:
			return
		}
	}
}

// shouldRetry 网络错误和 5xx/429 可重试；4xx 是交易所的明确拒绝，不重试
func (r *Result) shouldRetry() bool {
	return !r.Success && (r.HTTPStatus == 0 || r.HTTPStatus >= 500 || r.HTTPStatus == 429)
}

// send 发送一个请求，瞬时失败最多重试 maxSendAttempts-1 次。
// 每次尝试都走完整发送路径：重新消费预算、重新生成时间戳和签名，
// 否则重试发出的就是过期签名，还会突破窗口限额。
func (c *Client) send(req *request) *Result {
	backoff := retryBaseWait
	var res *Result
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			if !c.sleep(req.ctx, backoff) {
				return res
			}
			backoff *= 2
			if backoff > retryMaxWait {
				backoff = retryMaxWait
			}
			clientLog.Warnf("重试请求(%d/%d): %s %s", attempt, maxSendAttempts-1, req.method, req.endpoint)
		}
		if err := c.budget.Wait(req.ctx); err != nil {
			return &Result{Success: false, Error: err.Error()}
		}
		res = c.execute(req)
		if !res.shouldRetry() {
			return res
		}
	}
	return res
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// execute 实际发送一个请求。签名请求的 timestamp 在这里生成。
func (c *Client) execute(req *request) *Result {
	params := make(map[string]string, len(req.params)+3)
	for k, v := range req.params {
		params[k] = v
	}

	r := c.http.R().SetContext(req.ctx)

	if req.signed {
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		if c.cfg.RecvWindow > 0 {
			params["recvWindow"] = strconv.FormatInt(c.cfg.RecvWindow, 10)
		}
		params["signature"] = sign(c.cfg.Credentials.APISecret, canonicalQuery(params))
		r.SetHeader("X-MBX-APIKEY", c.cfg.Credentials.APIKey)
	}
	r.SetQueryParams(params)

	resp, err := r.Execute(req.method, req.endpoint)
	if err != nil {
		c.notifyNetErr()
		clientLog.Warnf("请求失败: %s %s: %v", req.method, req.endpoint, err)
		return &Result{
			Success: false,
			Error:   errors.Wrapf(err, "%s %s", req.method, req.endpoint).Error(),
		}
	}

	if resp.StatusCode() >= 400 {
		var ve venueError
		_ = json.Unmarshal(resp.Body(), &ve)
		if resp.StatusCode() >= 500 {
			// 5xx 按网络类错误计入熔断
			c.notifyNetErr()
		}
		clientLog.Warnf("交易所拒绝: %s %s status=%d code=%d msg=%s",
			req.method, req.endpoint, resp.StatusCode(), ve.Code, ve.Msg)
		return &Result{
			Success:    false,
			Error:      ve.Msg,
			HTTPStatus: resp.StatusCode(),
			Code:       ve.Code,
		}
	}

	c.notifySuccess()
	return &Result{
		Success:    true,
		Data:       json.RawMessage(resp.Body()),
		HTTPStatus: resp.StatusCode(),
	}
}

func (c *Client) notifyNetErr() {
	c.hookMu.RLock()
	fn := c.onNetErr
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) notifySuccess() {
	c.hookMu.RLock()
	fn := c.onSuccess
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}
