// 包 api：集中注册 geo-api 的 HTTP 路由，主入口挂载到 API_BASE 前缀
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"

	"github.com/redis/go-redis/v9"
)

// EntityStore：/geo/entities 所需的查询能力，由 store.Store 实现
type EntityStore interface {
	EntitiesAtLevel(ctx context.Context, level int) ([]geodata.Entity, error)
	Children(ctx context.Context, parent string, childLevel int) ([]geodata.Entity, error)
}

// Deps：路由依赖
// 约束：Store 与 Redis 可为 nil；Source 为空时使用 DataDir 下的文件；Cache 为空时基于 Source 构建
// 背景：Cache 与 Source 应指向同一数据来源，否则元数据与原始文件可能不一致
type Deps struct {
	DataDir  string
	Source   geodata.Source
	Store    EntityStore
	Redis    *redis.Client
	CacheTTL time.Duration
	Cache    *geodata.Cache
}

type server struct {
	Deps
}

// BuildRoutes：构建独立 ServeMux，便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	s := &server{Deps: d}
	if s.Source == nil {
		s.Source = geodata.NewFileSource(d.DataDir)
	}
	if s.Cache == nil {
		s.Cache = geodata.NewCache(s.Source)
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = time.Hour
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("GET /geo/world", s.world)
	mux.HandleFunc("GET /geo/admin/{country}", s.admin)
	mux.HandleFunc("GET /geo/meta/world", s.metaWorld)
	mux.HandleFunc("GET /geo/meta/admin/{country}", s.metaAdmin)
	mux.HandleFunc("GET /geo/list/admins", s.listAdmins)
	mux.HandleFunc("GET /geo/entities", s.entities)
	mux.HandleFunc("GET /geo/locate", s.locate)
	return mux
}

// Health：存活探针，远端客户端据此判断可用性
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "geo-api"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// cached：Redis 可用时以 key 缓存 fn 的输出；Redis 错误不影响主流程
func (s *server) cached(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	if s.Redis != nil {
		if b, err := s.Redis.Get(ctx, key).Bytes(); err == nil {
			logger.L().Debug("redis_hit", "key", key)
			return b, nil
		}
	}
	b, err := fn()
	if err != nil {
		return nil, err
	}
	if s.Redis != nil {
		if err := s.Redis.Set(ctx, key, b, s.CacheTTL).Err(); err != nil {
			logger.L().Warn("redis_set_fail", "key", key, "err", err)
		}
	}
	return b, nil
}
