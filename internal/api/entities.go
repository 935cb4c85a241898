package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"
)

// entities：实现后端查询契约
//   - ?adminLevel=N：该层级全部实体（0 为世界集合）
//   - ?parentCode=X&childLevel=N：X（代码或名称）下一层实体
func (s *server) entities(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "entity store disabled")
		return
	}
	q := r.URL.Query()
	parent := q.Get("parentCode")
	levelParam := "adminLevel"
	if parent != "" {
		levelParam = "childLevel"
	}
	level, err := strconv.Atoi(q.Get(levelParam))
	if err != nil || level < 0 {
		writeError(w, http.StatusBadRequest, levelParam+" must be a non-negative integer")
		return
	}
	ctx := r.Context()
	canon := url.Values{levelParam: {strconv.Itoa(level)}}
	if parent != "" {
		canon.Set("parentCode", parent)
	}
	body, err := s.cached(ctx, "geo:entities:"+canon.Encode(), func() ([]byte, error) {
		var es []geodata.Entity
		var err error
		if parent != "" {
			es, err = s.Store.Children(ctx, parent, level)
		} else {
			es, err = s.Store.EntitiesAtLevel(ctx, level)
		}
		if err != nil {
			return nil, err
		}
		if es == nil {
			es = []geodata.Entity{}
		}
		return json.Marshal(geodata.EntitiesResponse{Entities: es})
	})
	if err != nil {
		logger.L().Error("db_entities_fail", "parent", parent, "level", level, "err", err)
		writeError(w, http.StatusInternalServerError, "entity query failed")
		return
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(body)
}
