package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"
	"geo-drill/internal/measure"

	"github.com/paulmach/orb"
)

// LocateResponse：坐标命中的国家与（若存在分国文件）一级行政区
type LocateResponse struct {
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Country string  `json:"country,omitempty"`
	ISOCode string  `json:"isoCode,omitempty"`
	Region  string  `json:"region,omitempty"`
}

// 文档注释：坐标反查
// 背景：基于已加载的世界与分国边界做点面判定，结果按三位小数坐标缓存到 Redis。
// 约束：未命中任何国家时返回空字段而非 404；分国文件缺失不视为错误。
func (s *server) locate(w http.ResponseWriter, r *http.Request) {
	lon, err1 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	lat, err2 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err1 != nil || err2 != nil || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		writeError(w, http.StatusBadRequest, "lon and lat must be valid coordinates")
		return
	}
	ctx := r.Context()
	ck := "geo:locate:" + strconv.FormatFloat(lon, 'f', 3, 64) + ":" + strconv.FormatFloat(lat, 'f', 3, 64)
	body, err := s.cached(ctx, ck, func() ([]byte, error) {
		out := LocateResponse{Lon: lon, Lat: lat}
		world, err := s.loadWorld(ctx)
		if err != nil {
			return nil, err
		}
		pt := orb.Point{lon, lat}
		hit := measure.HitTest(world, pt)
		if hit != nil {
			out.Country, _ = hit.Properties["name"].(string)
			out.ISOCode, _ = hit.Properties["isoCode"].(string)
			admin, err := s.Cache.Load(ctx, AdminKey(strings.TrimSuffix(geodata.Slug(out.Country), "-admin")))
			switch {
			case err == nil:
				if f := measure.HitTest(admin, pt); f != nil {
					out.Region, _ = f.Properties["name"].(string)
				}
			case !errors.Is(err, geodata.ErrNotFound):
				logger.L().Warn("geo_locate_admin_fail", "country", out.Country, "err", err)
			}
		}
		return json.Marshal(out)
	})
	if err != nil {
		sourceError(w, "world", "world", err)
		return
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(body)
}
