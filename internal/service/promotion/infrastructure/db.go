package infrastructure

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// OpenDB 按驱动名打开数据库并执行表结构迁移。
// sqlite 使用纯 Go 实现，适合本地开发和测试；生产环境使用 mysql。
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite, "":
		if dsn == "" {
			dsn = "tokens.db"
		}
		dialector = sqlite.Open(dsn + sqlitePragmas(dsn))
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	zl := log.With().Str("component", "gorm").Logger()
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(&zl, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver != DriverMySQL {
		// SQLite 同一时刻只允许一个写者，单连接避免 SQLITE_BUSY。
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info().Str("driver", db.Dialector.Name()).Msg("db: connected and migrated")
	return db, nil
}

// Migrate 创建 promo_codes 和 tokens 两张表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&PromoCodeModel{}, &TokenModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() == DriverMySQL {
		// MySQL 默认排序规则不区分大小写，而优惠码是区分大小写的。
		if err := db.Exec("ALTER TABLE promo_codes MODIFY code VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL").Error; err != nil {
			return fmt.Errorf("set binary collation on promo_codes.code: %w", err)
		}
	}
	return nil
}

func sqlitePragmas(dsn string) string {
	sep := "?"
	for _, c := range dsn {
		if c == '?' {
			sep = "&"
			break
		}
	}
	return sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
