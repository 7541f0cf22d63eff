package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Credentials API 凭证。Secret 不允许完整出现在日志里。
type Credentials struct {
	APIKey    string
	APISecret string
}

// Fingerprint 返回可安全打印的 key 指纹（前 4 位 + 长度）
func (c Credentials) Fingerprint() string {
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s***(%d)", c.APIKey[:4], len(c.APIKey))
}

// canonicalQuery 构建规范化查询串：按 key 排序后 URL 编码。
// 签名和实际发送的查询串必须一字不差。
func canonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

// sign 计算查询串的 HMAC-SHA256 签名（hex 编码）
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
