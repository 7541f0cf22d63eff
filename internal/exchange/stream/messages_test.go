package stream

import (
	"testing"

	"github.com/tradebot/gobinance/internal/domain"
)

// 真实推送都带顶层事件时间键 "E"，解析器必须能吃下完整报文。
func TestParseKlineFullPayload(t *testing.T) {
	msg := []byte(`{"e":"kline","E":1700000000123,"s":"BTCUSDT","k":{"t":1699999940000,"T":1700000000000,"s":"BTCUSDT","i":"1m","f":100,"L":200,"o":"30000","c":"30100","h":"30200","l":"29900","v":"12.5","n":42,"x":true,"q":"376250.0"}}`)

	if got := EventType(msg); got != "kline" {
		t.Fatalf("EventType = %q, want kline", got)
	}

	k, err := ParseKline(msg)
	if err != nil {
		t.Fatalf("ParseKline: %v", err)
	}
	if k.Symbol != "BTCUSDT" || k.Interval != "1m" {
		t.Fatalf("符号/周期解析错误: %+v", k)
	}
	if !k.Closed {
		t.Fatal("收盘标志应为 true")
	}
	if k.Close != 30100 || k.High != 30200 || k.Low != 29900 {
		t.Fatalf("价格解析错误: %+v", k)
	}
}

func TestParseExecutionReportFullPayload(t *testing.T) {
	msg := []byte(`{"e":"executionReport","E":1700000000123,"s":"BTCUSDT","c":"gb-abc","S":"BUY","o":"LIMIT","f":"GTC","q":"1.00000000","p":"30000.00000000","X":"PARTIALLY_FILLED","i":12345,"l":"0.40000000","z":"0.40000000","L":"30000.00000000","Z":"12000.00000000","T":1700000000100}`)

	if got := EventType(msg); got != "executionReport" {
		t.Fatalf("EventType = %q, want executionReport", got)
	}

	u, err := ParseExecutionReport(msg)
	if err != nil {
		t.Fatalf("ParseExecutionReport: %v", err)
	}
	if u.ExchangeOrderID != "12345" || u.ClientRef != "gb-abc" {
		t.Fatalf("订单标识解析错误: %+v", u)
	}
	if u.Status != domain.OrderStatusPartial {
		t.Fatalf("状态 = %s, want PARTIALLY_FILLED", u.Status)
	}
	if u.FilledQty != 0.4 || u.AvgFillPrice != 30000 {
		t.Fatalf("成交量/均价解析错误: %+v", u)
	}
}
