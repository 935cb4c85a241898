package migrate

import (
	"context"
	"database/sql"

	"geo-drill/internal/logger"
)

// Statements 为实体表的建表语句，按顺序执行
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS _geo_entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		iso_code TEXT NOT NULL DEFAULT '',
		admin_level INT NOT NULL,
		parent_code TEXT NOT NULL DEFAULT '',
		geometry JSONB,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_entities_level ON _geo_entities(admin_level)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_entities_parent ON _geo_entities(parent_code, admin_level)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_entities_name ON _geo_entities(name)`,
}

// EnsureSchema：首次运行自动创建实体表与索引
// 约束：全部使用 IF NOT EXISTS，可重复执行
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
