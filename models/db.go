package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"ExplainerVideo-server/config"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

// InitDB 根据配置打开数据库并自动建表；driver 为 memory 时返回内存实现
func InitDB() Store {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	c := config.AppConfig.Database
	if c.Driver == "memory" {
		log.Println("[DB] using in-memory store")
		return NewMemoryStore()
	}
	db, err := OpenGorm(c.Driver, c.DSN)
	if err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}
	GormDB = db
	if err := AutoMigrate(db); err != nil {
		log.Fatalf("自动建表失败: %v", err)
	}
	log.Printf("[DB] 数据库连接成功 (%s + GORM)", c.Driver)
	return NewGormStore(db)
}

func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		// 时间列需要 parseTime
		cfg, err := mysqldrv.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("解析 mysql dsn 失败: %w", err)
		}
		cfg.ParseTime = true
		sqlDB, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("打开数据库失败: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
		if err := sqlDB.Ping(); err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		DB = sqlDB
		return gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Project{}, &Scene{}, &Asset{})
}

// GormStore implements Store on top of GORM.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) SaveProject(ctx context.Context, p *Project) error {
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *GormStore) SetProjectStatus(ctx context.Context, id, status, message string) error {
	res := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": message,
		"updated_at":    time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	q := s.db.WithContext(ctx).Model(&Project{})
	if f.Tier != "" {
		q = q.Where("tier = ?", f.Tier)
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", f.CreatedBefore)
	}
	var out []Project
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&Scene{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&Asset{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) ListScenes(ctx context.Context, projectID string) ([]Scene, error) {
	var out []Scene
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("scene_order ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) GetScene(ctx context.Context, projectID, sceneID string) (*Scene, error) {
	var sc Scene
	if err := s.db.WithContext(ctx).First(&sc, "id = ? AND project_id = ?", sceneID, projectID).Error; err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (s *GormStore) ReplaceScenes(ctx context.Context, projectID string, scenes []Scene) error {
	Renumber(scenes)
	for i := range scenes {
		scenes[i].ProjectID = projectID
		if scenes[i].ID == "" {
			scenes[i].ID = uuid.NewString()
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&Scene{}).Error; err != nil {
			return err
		}
		if len(scenes) == 0 {
			return nil
		}
		return tx.Create(&scenes).Error
	})
}

func (s *GormStore) SaveScene(ctx context.Context, sc *Scene) error {
	return s.db.WithContext(ctx).Save(sc).Error
}

func (s *GormStore) ReorderScenes(ctx context.Context, projectID string, orderedIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Scene
		if err := tx.Where("project_id = ?", projectID).Find(&existing).Error; err != nil {
			return err
		}
		pos, err := checkOrder(existing, orderedIDs)
		if err != nil {
			return err
		}
		for id, order := range pos {
			err := tx.Model(&Scene{}).Where("id = ? AND project_id = ?", id, projectID).
				Updates(map[string]interface{}{"scene_order": order, "updated_at": time.Now()}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) CreateAsset(ctx context.Context, a *Asset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) GetAsset(ctx context.Context, projectID, assetID string) (*Asset, error) {
	var a Asset
	if err := s.db.WithContext(ctx).First(&a, "id = ? AND project_id = ?", assetID, projectID).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *GormStore) ListAssets(ctx context.Context, projectID string) ([]Asset, error) {
	var out []Asset
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) SaveAsset(ctx context.Context, a *Asset) error {
	return s.db.WithContext(ctx).Save(a).Error
}

func (s *GormStore) DeleteAsset(ctx context.Context, projectID, assetID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", assetID, projectID).Delete(&Asset{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
