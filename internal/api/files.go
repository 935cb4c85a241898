package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"
	"geo-drill/internal/measure"

	"github.com/paulmach/orb/geojson"
)

// WorldCandidates 按顺序探测的世界地图文件
var WorldCandidates = []string{"world-110m.json", "world-110m.topojson", "world-110m.geojson"}

const AdminDir = "admin-by-country"

// MetaResponse：文件元数据；featureCount 在无法解析时为 null
type MetaResponse struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	FeatureCount *int      `json:"featureCount"`
	BBox         []float64 `json:"bbox,omitempty"`
}

type AdminListResponse struct {
	Countries []string `json:"countries"`
}

// AdminKey：国家键到分国文件的映射，去除 ".." 防止越界
func AdminKey(country string) string {
	return path.Join(AdminDir, strings.ReplaceAll(country, "..", "")+"-admin.json")
}

// document：一次原始读取的结果
// 约束：Encoding 非空时 Body 为未解压的原始字节（仅本地 .gz 透传）；Size 为来源中的字节数
type document struct {
	Key      string
	Body     []byte
	Encoding string
	Size     int64
}

// 文档注释：读取原始文档
// 背景：经配置的数据来源（文件/HTTP/S3/Redis）取数；本地文件的 .gz 兄弟文件原样透传。
// 约束：压缩优先级与 FileSource 一致（.zst > .gz > 原始文件）；.zst 解压后输出。
func (s *server) document(ctx context.Context, key string) (document, error) {
	if fs, ok := s.Source.(*geodata.FileSource); ok {
		lf, err := fs.Locate(key)
		if err != nil {
			return document{}, err
		}
		if lf.Encoding == "gzip" {
			b, err := os.ReadFile(lf.Path)
			if err != nil {
				return document{}, err
			}
			return document{Key: key, Body: b, Encoding: "gzip", Size: int64(len(b))}, nil
		}
		b, err := fs.Fetch(ctx, key)
		if err != nil {
			return document{}, err
		}
		return document{Key: key, Body: b, Size: lf.Info.Size()}, nil
	}
	b, err := s.Source.Fetch(ctx, key)
	if err != nil {
		return document{}, err
	}
	return document{Key: key, Body: b, Size: int64(len(b))}, nil
}

// worldDocument：按 WorldCandidates 顺序返回第一个存在的世界文件
func (s *server) worldDocument(ctx context.Context) (document, error) {
	for _, key := range WorldCandidates {
		doc, err := s.document(ctx, key)
		if errors.Is(err, geodata.ErrNotFound) {
			continue
		}
		return doc, err
	}
	return document{}, geodata.ErrNotFound
}

// loadWorld：解码后的世界集合，来源同 worldDocument
func (s *server) loadWorld(ctx context.Context) (*geojson.FeatureCollection, error) {
	for _, key := range WorldCandidates {
		fc, err := s.Cache.Load(ctx, key)
		if errors.Is(err, geodata.ErrNotFound) {
			continue
		}
		return fc, err
	}
	return nil, geodata.ErrNotFound
}

// sourceError：不存在映射为 404，其余来源故障为 502
func sourceError(w http.ResponseWriter, what, key string, err error) {
	if errors.Is(err, geodata.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" geo file not found")
		return
	}
	logger.L().Error("geo_source_fail", "key", key, "err", err)
	writeError(w, http.StatusBadGateway, what+" geo source unavailable")
}

func (s *server) world(w http.ResponseWriter, r *http.Request) {
	doc, err := s.worldDocument(r.Context())
	if err != nil {
		sourceError(w, "world", "world", err)
		return
	}
	serveDocument(w, doc)
}

func (s *server) admin(w http.ResponseWriter, r *http.Request) {
	key := AdminKey(r.PathValue("country"))
	doc, err := s.document(r.Context(), key)
	if err != nil {
		sourceError(w, "admin", key, err)
		return
	}
	serveDocument(w, doc)
}

func serveDocument(w http.ResponseWriter, doc document) {
	w.Header().Set("content-type", "application/json")
	if doc.Encoding != "" {
		w.Header().Set("content-encoding", doc.Encoding)
	}
	_, _ = w.Write(doc.Body)
}

func (s *server) metaWorld(w http.ResponseWriter, r *http.Request) {
	doc, err := s.worldDocument(r.Context())
	if err != nil {
		sourceError(w, "world", "world", err)
		return
	}
	s.meta(w, r, doc)
}

func (s *server) metaAdmin(w http.ResponseWriter, r *http.Request) {
	key := AdminKey(r.PathValue("country"))
	doc, err := s.document(r.Context(), key)
	if err != nil {
		sourceError(w, "admin", key, err)
		return
	}
	s.meta(w, r, doc)
}

// meta：解码失败时仅返回路径与大小
func (s *server) meta(w http.ResponseWriter, r *http.Request, doc document) {
	out := MetaResponse{Path: doc.Key, Size: doc.Size}
	fc, err := s.Cache.Load(r.Context(), doc.Key)
	if err != nil {
		logger.L().Warn("geo_meta_decode_fail", "key", doc.Key, "err", err)
		writeJSON(w, http.StatusOK, out)
		return
	}
	n := len(fc.Features)
	out.FeatureCount = &n
	if n > 0 {
		b := measure.Bounds(fc)
		out.BBox = b[:]
	}
	writeJSON(w, http.StatusOK, out)
}

// listAdmins：来源支持枚举时列出来源中的键，否则回退到本地 DataDir
func (s *server) listAdmins(w http.ResponseWriter, r *http.Request) {
	l, ok := s.Source.(geodata.Lister)
	if !ok {
		l = geodata.NewFileSource(s.DataDir)
	}
	keys, err := l.List(r.Context(), AdminDir)
	if errors.Is(err, geodata.ErrListUnsupported) {
		keys, err = geodata.NewFileSource(s.DataDir).List(r.Context(), AdminDir)
	}
	if err != nil {
		logger.L().Error("geo_list_admins_fail", "err", err)
		writeError(w, http.StatusBadGateway, "admin list unavailable")
		return
	}
	writeJSON(w, http.StatusOK, AdminListResponse{Countries: AdminCountries(keys)})
}

// AdminCountries：从分国文件键中提取国家键，保持输入顺序
func AdminCountries(keys []string) []string {
	out := []string{}
	for _, k := range keys {
		name := path.Base(k)
		if strings.HasSuffix(name, "-admin.json") {
			out = append(out, strings.TrimSuffix(name, "-admin.json"))
		}
	}
	return out
}
