package geodata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"geo-drill/internal/antimeridian"
	"geo-drill/internal/topology"

	"github.com/paulmach/orb/geojson"
)

// Entity is one row of the backend query contract. Geometry is plain
// GeoJSON, never a topology.
type Entity struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ISOCode    string          `json:"isoCode,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	AdminLevel int             `json:"adminLevel"`
	ParentCode string          `json:"parentCode,omitempty"`
}

// EntitiesResponse is the body of GET /geo/entities.
type EntitiesResponse struct {
	Entities []Entity `json:"entities"`
}

// 文档注释：远端边界 API 客户端
// 背景：与 geo-api 的 /health 与 /geo/entities 契约对接；心跳失败时由 Resilient 降级到本地文件。
// 约束：HTTP 失败与非 2xx 统一映射为 SourceError；404 视为不存在。
type APIClient struct {
	Base   string
	Client *http.Client
}

func NewAPIClient(base string) *APIClient {
	return &APIClient{Base: strings.TrimRight(base, "/"), Client: &http.Client{Timeout: 10 * time.Second}}
}

// Health probes GET /health; anything but 200 is unhealthy.
func (c *APIClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return unavailable("health", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &SourceError{Key: "health", Status: resp.StatusCode}
	}
	return nil
}

// Entities returns every entity at adminLevel.
func (c *APIClient) Entities(ctx context.Context, adminLevel int) (*geojson.FeatureCollection, error) {
	q := url.Values{"adminLevel": {strconv.Itoa(adminLevel)}}
	return c.query(ctx, q)
}

// Children returns the entities at childLevel below parent, which may be a
// name or an ISO code.
func (c *APIClient) Children(ctx context.Context, parent string, childLevel int) (*geojson.FeatureCollection, error) {
	q := url.Values{"parentCode": {parent}, "childLevel": {strconv.Itoa(childLevel)}}
	return c.query(ctx, q)
}

func (c *APIClient) query(ctx context.Context, q url.Values) (*geojson.FeatureCollection, error) {
	key := "geo/entities?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/geo/entities?"+q.Encode(), nil)
	if err != nil {
		return nil, unavailable(key, err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, unavailable(key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &SourceError{Key: key, Status: resp.StatusCode, NotFound: true}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SourceError{Key: key, Status: resp.StatusCode}
	}
	var body EntitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, unavailable(key, err)
	}
	return EntitiesToCollection(body.Entities)
}

// EntitiesToCollection builds a normalized, repaired collection. Entities
// whose geometry does not parse are skipped.
func EntitiesToCollection(es []Entity) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, e := range es {
		var f *geojson.Feature
		if len(e.Geometry) == 0 || string(e.Geometry) == "null" {
			f = geojson.NewFeature(nil)
		} else {
			g, err := geojson.UnmarshalGeometry(e.Geometry)
			if err != nil {
				continue
			}
			f = geojson.NewFeature(g.Coordinates)
		}
		f.ID = e.ID
		f.Properties["name"] = e.Name
		if e.ISOCode != "" {
			f.Properties["isoCode"] = e.ISOCode
		}
		f.Properties["adminLevel"] = e.AdminLevel
		if e.ParentCode != "" {
			f.Properties["parentCode"] = e.ParentCode
		}
		fc.Append(f)
	}
	if len(es) > 0 && len(fc.Features) == 0 {
		return nil, fmt.Errorf("%w: no entity geometry could be parsed", topology.ErrUnsupportedFormat)
	}
	topology.Normalize(fc)
	return antimeridian.Repair(fc), nil
}

// CollectionToEntities converts decoded features into rows for the entity
// store. Ids are derived from level, parent and the ISO code or name so
// re-imports update rows in place.
func CollectionToEntities(fc *geojson.FeatureCollection, level int, parent string) ([]Entity, error) {
	if fc == nil {
		return nil, nil
	}
	topology.Normalize(fc)
	out := make([]Entity, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		name, _ := f.Properties["name"].(string)
		iso, _ := f.Properties["isoCode"].(string)
		e := Entity{Name: name, ISOCode: iso, AdminLevel: level, ParentCode: parent}
		key := iso
		if key == "" {
			key = name
		}
		e.ID = strconv.Itoa(level) + ":" + parent + ":" + key
		if f.Geometry != nil {
			b, err := json.Marshal(geojson.NewGeometry(f.Geometry))
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", name, err)
			}
			e.Geometry = b
		}
		out = append(out, e)
	}
	return out, nil
}
