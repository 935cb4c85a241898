// 包 config：集中读取环境变量（可选 .env），为服务与命令行工具提供带默认值的类型化配置
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config：运行参数快照
// 约束：解析失败的取值静默回退到默认值，不阻断启动
type Config struct {
	Addr    string
	APIBase string

	DataDir        string
	SourceKind     string // file | http | s3
	SourceURL      string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3PathStyle    bool
	WorldLowRes    string
	WorldMediumRes string
	FetchTimeout   time.Duration

	APIURL            string
	APIHealthInterval time.Duration

	MaxFocusLevel int
	SettleDelay   time.Duration
	LoadTimeout   time.Duration
	FitPadding    float64
	WindowWest    float64
	WindowEast    float64

	CORSOrigins      []string
	RateLimitEnabled bool
	RateLimitQPS     int

	RedisEnabled bool
	RedisTTL     time.Duration
	PGEnabled    bool

	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string
}

// LoadDotenv：按约定路径加载 .env 文件，文件缺失时忽略
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// FromEnv：从进程环境构建配置
func FromEnv() Config {
	return Config{
		Addr:    Str("ADDR", ":8080"),
		APIBase: Str("API_BASE", "/api"),

		DataDir:        Str("GEO_DATA_DIR", filepath.Join("data", "geo")),
		SourceKind:     strings.ToLower(Str("GEO_SOURCE", "file")),
		SourceURL:      Str("GEO_SOURCE_URL", ""),
		S3Bucket:       Str("GEO_S3_BUCKET", ""),
		S3Prefix:       Str("GEO_S3_PREFIX", ""),
		S3Region:       Str("GEO_S3_REGION", "us-east-1"),
		S3Endpoint:     Str("GEO_S3_ENDPOINT", ""),
		S3PathStyle:    Bool("GEO_S3_PATH_STYLE", false),
		WorldLowRes:    Str("GEO_WORLD_LOW", "world-110m.json"),
		WorldMediumRes: Str("GEO_WORLD_MEDIUM", "world-50m.json"),
		FetchTimeout:   Millis("GEO_FETCH_TIMEOUT_MS", 5000),

		APIURL:            Str("GEO_API_URL", ""),
		APIHealthInterval: time.Duration(Int("GEO_API_HEALTH_INTERVAL_S", 60)) * time.Second,

		MaxFocusLevel: Int("FOCUS_MAX_LEVEL", 4),
		SettleDelay:   Millis("FOCUS_SETTLE_MS", 600),
		LoadTimeout:   Millis("FOCUS_LOAD_TIMEOUT_MS", 10000),
		FitPadding:    Float("FIT_PADDING", 0.05),
		WindowWest:    Float("FIT_WINDOW_WEST", -130),
		WindowEast:    Float("FIT_WINDOW_EAST", 170),

		CORSOrigins:      List("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		RateLimitEnabled: Bool("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:     Int("RATE_LIMIT_QPS", 200),

		RedisEnabled: Bool("REDIS_ENABLE", false),
		RedisTTL:     time.Duration(Int("REDIS_TTL_S", 3600)) * time.Second,
		PGEnabled:    Bool("PG_ENABLE", false),

		TLSEnabled:  Bool("TLS_ENABLE", false),
		TLSCertPath: Str("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:  Str("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
}

func Str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func Int(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func Float(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func Bool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Millis：整数毫秒取值转换为 Duration
func Millis(key string, def int) time.Duration {
	return time.Duration(Int(key, def)) * time.Millisecond
}

// List：逗号分隔列表，空项被忽略
func List(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
