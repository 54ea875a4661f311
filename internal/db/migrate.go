package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

// The news schema and its indexes live in plain SQL so they can use
// partial indexes and DESC ordering that gorm's auto-migration cannot
// express. The schema script runs before AutoMigrate so the tables have
// somewhere to land; the index script runs after, once the tables exist.

//go:embed sql/pre_automigrate.sql
var schemaSQL string

//go:embed sql/post_automigrate.sql
var indexSQL string

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.execScript(ctx, "schema", schemaSQL); err != nil {
		return err
	}

	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}

	return p.execScript(ctx, "index", indexSQL)
}

func (p *Pool) execScript(ctx context.Context, label, script string) error {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil
	}
	if err := p.gdb.WithContext(ctx).Exec(script).Error; err != nil {
		return fmt.Errorf("run %s migration script: %w", label, err)
	}
	return nil
}
