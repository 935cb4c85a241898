// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"geo-drill/internal/api"
	"geo-drill/internal/config"
	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"
	"geo-drill/internal/metrics"
	"geo-drill/internal/middleware"
	"geo-drill/internal/migrate"
	"geo-drill/internal/store"
	"geo-drill/internal/utils"
	"geo-drill/internal/version"

	"github.com/redis/go-redis/v9"
)

func main() {
	config.LoadDotenv()
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)
	cfg := config.FromEnv()
	l.Debug("config_api_base", "base", cfg.APIBase)
	l.Debug("config_data_dir", "dir", cfg.DataDir, "source", cfg.SourceKind)

	ctx := context.Background()
	deps := api.Deps{DataDir: cfg.DataDir, CacheTTL: cfg.RedisTTL}

	if cfg.PGEnabled {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st := store.AttachDB(db)
		if counts, err := st.CountByLevel(ctx); err == nil {
			l.Info("db_entities_ready", "levels", counts)
		}
		deps.Store = st
	} else {
		l.Info("db_disabled")
	}

	var rc *redis.Client
	if cfg.RedisEnabled {
		rc = utils.OpenRedisFromEnv()
	}
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		deps.Redis = rc
	}

	src, err := buildSource(ctx, cfg, rc)
	if err != nil {
		l.Error("geo_source_error", "kind", cfg.SourceKind, "err", err)
		os.Exit(1)
	}
	deps.Source = src
	deps.Cache = geodata.NewCache(src, geodata.WithFetchTimeout(cfg.FetchTimeout), geodata.WithLogger(logger.Component("geodata")))

	base := strings.TrimRight(cfg.APIBase, "/")
	mux := http.NewServeMux()
	mux.Handle(base+"/", http.StripPrefix(base, api.BuildRoutes(deps)))
	mux.Handle(base+"/metrics", metrics.Handler())
	mux.HandleFunc("GET /health", api.Health)

	// NOTE: 向前端暴露 API 基础路径，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + base + "'\n"))
		_, _ = w.Write([]byte("window.__COMMIT_SHA__='" + version.Commit + "'"))
	})

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler, cfg)
	s := &http.Server{Addr: cfg.Addr, Handler: handler}
	if cfg.TLSEnabled {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "geo-api.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		if err := s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath); err != nil {
			l.Error("server_exit", "err", err)
		}
		return
	}
	l.Info("listening", "addr", cfg.Addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_exit", "err", err)
	}
}

// buildSource：按 GEO_SOURCE 选择原始数据来源；启用 Redis 时在外层加字节缓存
func buildSource(ctx context.Context, cfg config.Config, rc *redis.Client) (geodata.Source, error) {
	var src geodata.Source
	switch cfg.SourceKind {
	case "http":
		src = geodata.NewHTTPSource(cfg.SourceURL)
	case "s3":
		s3src, err := geodata.NewS3Source(ctx, geodata.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		src = s3src
	default:
		src = geodata.NewFileSource(cfg.DataDir)
	}
	if rc != nil {
		src = geodata.NewRedisSource(src, rc, cfg.RedisTTL)
	}
	return src, nil
}
