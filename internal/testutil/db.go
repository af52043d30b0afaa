// Package testutil 提供测试使用的内存数据库与样例数据
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"mealsub/internal/infrastructure/database"
	"mealsub/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq int64

// SetupTestDB 创建独立的内存 SQLite 库并迁移表结构
// 只保留一个连接，事务天然串行，与 MySQL 行锁下的效果一致
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", atomic.AddInt64(&seq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedProduct 插入一个商品
func SeedProduct(t *testing.T, db *gorm.DB, price, deliveryCount int64, weekdays string) *model.Product {
	t.Helper()
	product := &model.Product{
		Name:             fmt.Sprintf("meal-plan-%d", deliveryCount),
		Price:            price,
		DeliveryCount:    deliveryCount,
		DeliveryWeekdays: weekdays,
		IsActive:         true,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedUser 插入一个用户
func SeedUser(t *testing.T, db *gorm.DB, phone string) *model.User {
	t.Helper()
	user := &model.User{Name: "tester", Phone: phone}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}
