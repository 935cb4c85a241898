// 包 store：边界实体的 PostgreSQL 访问层，服务 /geo/entities 查询契约与命令行导入
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"geo-drill/internal/geodata"
	"geo-drill/internal/logger"

	_ "github.com/lib/pq"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const selectEntity = `SELECT id, name, iso_code, admin_level, parent_code, geometry FROM _geo_entities`

// EntitiesAtLevel：返回某一行政层级的全部实体（adminLevel=0 即世界集合）
func (s *Store) EntitiesAtLevel(ctx context.Context, level int) ([]geodata.Entity, error) {
	rows, err := s.db.QueryContext(ctx, selectEntity+` WHERE admin_level=$1 ORDER BY name`, level)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

// Children：返回 parent 下 childLevel 层级的实体
// 约束：parent 可为 ISO 代码或名称；名称按上一层级解析为代码
func (s *Store) Children(ctx context.Context, parent string, childLevel int) ([]geodata.Entity, error) {
	rows, err := s.db.QueryContext(ctx, selectEntity+`
		WHERE admin_level=$2 AND (parent_code=$1 OR parent_code IN (
			SELECT iso_code FROM _geo_entities WHERE name=$1 AND admin_level=$2-1 AND iso_code<>''
		))
		ORDER BY name`, parent, childLevel)
	if err != nil {
		return nil, err
	}
	out, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("db_children", "parent", parent, "level", childLevel, "count", len(out))
	return out, nil
}

func scanEntities(rows *sql.Rows) ([]geodata.Entity, error) {
	defer rows.Close()
	var out []geodata.Entity
	for rows.Next() {
		var e geodata.Entity
		var geom []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.ISOCode, &e.AdminLevel, &e.ParentCode, &geom); err != nil {
			return nil, err
		}
		if len(geom) > 0 {
			e.Geometry = json.RawMessage(geom)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertEntities：在单个事务中写入或更新实体，返回写入条数
func (s *Store) UpsertEntities(ctx context.Context, es []geodata.Entity) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _geo_entities(id, name, iso_code, admin_level, parent_code, geometry)
		VALUES($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, iso_code=EXCLUDED.iso_code, admin_level=EXCLUDED.admin_level,
			parent_code=EXCLUDED.parent_code, geometry=EXCLUDED.geometry, updated_at=now()`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	n := 0
	for _, e := range es {
		var geom any
		if len(e.Geometry) > 0 {
			geom = string(e.Geometry)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Name, e.ISOCode, e.AdminLevel, e.ParentCode, geom); err != nil {
			return n, fmt.Errorf("upsert %s: %w", e.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.L().Info("db_upsert_entities", "count", n)
	return n, nil
}

// CountByLevel：各层级实体数量，供健康检查展示
func (s *Store) CountByLevel(ctx context.Context) (map[int]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT admin_level, COUNT(1) FROM _geo_entities GROUP BY admin_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]int64{}
	for rows.Next() {
		var level int
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[level] = n
	}
	return out, rows.Err()
}
