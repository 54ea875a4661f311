package db

import (
	"encoding/json"
	"time"
)

// ArticleModel maps news.articles.
type ArticleModel struct {
	ArticleID      int64           `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID    string          `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug           string          `gorm:"column:slug;type:text;not null;uniqueIndex:articles_slug_key"`
	Title          string          `gorm:"column:title;type:text;not null"`
	Summary        string          `gorm:"column:summary;type:text;not null;default:''"`
	Content        string          `gorm:"column:content;type:text;not null;default:''"`
	Category       string          `gorm:"column:category;type:text;not null"`
	AuthorName     string          `gorm:"column:author_name;type:text;not null;default:''"`
	SourceName     string          `gorm:"column:source_name;type:text;not null;default:''"`
	SourceURL      *string         `gorm:"column:source_url;type:text"`
	PublishedAt    time.Time       `gorm:"column:published_at;type:timestamptz;not null;default:now()"`
	Featured       bool            `gorm:"column:featured;type:boolean;not null;default:false"`
	Enriched       bool            `gorm:"column:enriched;type:boolean;not null;default:false"`
	Tags           json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	RelatedSymbols json.RawMessage `gorm:"column:related_symbols;type:jsonb;not null;default:'[]'"`
	ViewCount      int64           `gorm:"column:view_count;type:bigint;not null;default:0"`
	ShareCount     int64           `gorm:"column:share_count;type:bigint;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ArticleModel) TableName() string { return "news.articles" }

// IngestTick maps news.ingest_ticks, one row per scheduled pipeline run.
type IngestTick struct {
	TickID            int64      `gorm:"column:tick_id;primaryKey;autoIncrement"`
	TickUUID          string     `gorm:"column:tick_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	StartedAt         time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt        *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status            string     `gorm:"column:status;type:text;not null;default:running"`
	SourcesProcessed  int        `gorm:"column:sources_processed;type:integer;not null;default:0"`
	SourcesFailed     int        `gorm:"column:sources_failed;type:integer;not null;default:0"`
	ItemsFetched      int        `gorm:"column:items_fetched;type:integer;not null;default:0"`
	ArticlesCreated   int        `gorm:"column:articles_created;type:integer;not null;default:0"`
	DuplicatesSkipped int        `gorm:"column:duplicates_skipped;type:integer;not null;default:0"`
	ItemsFailed       int        `gorm:"column:items_failed;type:integer;not null;default:0"`
	ErrorMessage      *string    `gorm:"column:error_message;type:text"`
}

func (IngestTick) TableName() string { return "news.ingest_ticks" }

func autoMigrateModels() []any {
	return []any{
		&ArticleModel{},
		&IngestTick{},
	}
}
