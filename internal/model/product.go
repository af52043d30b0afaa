package model

import (
	"strconv"
	"strings"
	"time"
)

// Product 商品（只读镜像，商品的维护不在本服务内）
type Product struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string    `gorm:"type:varchar(128);not null" json:"name"`
	Price            int64     `gorm:"not null" json:"price"`
	DeliveryCount    int64     `gorm:"not null" json:"delivery_count"`              // 每次购买获得的配送次数
	DeliveryWeekdays string    `gorm:"type:varchar(32)" json:"delivery_weekdays"` // 例如 "1,3,5"，为空时使用全局配置
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// Weekdays 解析配送星期，0 表示周日
func (p *Product) Weekdays() []time.Weekday {
	return ParseWeekdays(p.DeliveryWeekdays)
}

func ParseWeekdays(s string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

// User 用户（只读镜像，仅用于查询通知手机号）
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(64)" json:"name"`
	Phone     string    `gorm:"type:varchar(32)" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "app_user"
}
