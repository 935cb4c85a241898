// 包 middleware：geo-api 入口中间件（CORS 与可选令牌桶限流）
package middleware

import (
	"net/http"

	"geo-drill/internal/config"
)

// Wrap：按配置组装中间件链，CORS 在最外层以便 429 响应也带跨域头
func Wrap(next http.Handler, cfg config.Config) http.Handler {
	h := next
	if cfg.RateLimitEnabled {
		h = RateLimit(NewTokenBucket(cfg.RateLimitQPS))(h)
	}
	return CORS(cfg.CORSOrigins)(h)
}
