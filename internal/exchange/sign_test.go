package exchange

import (
	"strings"
	"testing"
)

// 已知向量：HMAC-SHA256(secret, query) 的 hex 结果
func TestSignKnownVector(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := sign(secret, payload); got != want {
		t.Errorf("sign = %s, want %s", got, want)
	}
}

// 测试规范化查询串：按 key 排序且 URL 编码
func TestCanonicalQuery(t *testing.T) {
	got := canonicalQuery(map[string]string{
		"symbol":    "BTCUSDT",
		"side":      "BUY",
		"quantity":  "1.5",
		"timestamp": "1700000000000",
	})
	want := "quantity=1.5&side=BUY&symbol=BTCUSDT&timestamp=1700000000000"
	if got != want {
		t.Errorf("canonicalQuery = %s, want %s", got, want)
	}

	if canonicalQuery(nil) != "" {
		t.Error("空参数应返回空串")
	}

	// 需要转义的值
	got = canonicalQuery(map[string]string{"a": "x y&z"})
	if got != "a=x+y%26z" {
		t.Errorf("转义结果 = %s", got)
	}
}

// 测试凭证指纹不泄露完整 key
func TestCredentialsFingerprint(t *testing.T) {
	c := Credentials{APIKey: "abcd1234efgh5678", APISecret: "secret"}
	fp := c.Fingerprint()
	if !strings.HasPrefix(fp, "abcd") {
		t.Errorf("指纹应含前 4 位: %s", fp)
	}
	if strings.Contains(fp, "1234") {
		t.Errorf("指纹不应泄露后续字符: %s", fp)
	}
	if (Credentials{}).Fingerprint() != "****" {
		t.Error("空 key 指纹应为 ****")
	}
}
