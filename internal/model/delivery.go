package model

import (
	"time"
)

const (
	DeliveryStatusPending  = "pending"
	DeliveryStatusComplete = "complete"
	DeliveryStatusCancel   = "cancel"
)

// DateLayout 配送日期的存储格式
const DateLayout = "2006-01-02"

var ValidDeliveryTransitions = map[string][]string{
	DeliveryStatusPending: {DeliveryStatusComplete, DeliveryStatusCancel},
}

func CanDeliveryTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidDeliveryTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsDeliveryStatus(status string) bool {
	switch status {
	case DeliveryStatusPending, DeliveryStatusComplete, DeliveryStatusCancel:
		return true
	}
	return false
}

// Delivery 配送记录
// 由预约批次创建，日期创建后不可修改，正常流程不会物理删除
type Delivery struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"index:idx_delivery_user_product;not null" json:"user_id"`
	ProductID      int64     `gorm:"index:idx_delivery_user_product;not null" json:"product_id"`
	DeliveryDate   string    `gorm:"type:char(10);index;not null" json:"delivery_date"`
	Status         string    `gorm:"type:varchar(20);index;not null" json:"status"`
	SpecialRequest string    `gorm:"type:varchar(512)" json:"special_request,omitempty"`
	BatchNo        string    `gorm:"type:varchar(64);index;not null" json:"batch_no"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Delivery) TableName() string {
	return "delivery"
}

// FormatDate 将时间截断为配送日期字符串
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate 解析配送日期，返回所在时区零点
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, s, loc)
}
