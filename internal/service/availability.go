package service

import (
	"iter"
	"time"

	"mealsub/internal/model"
)

// Role 调用方角色，由网关层鉴权后通过请求头传入
type Role string

const (
	RoleStandard Role = "standard"
	RoleElevated Role = "elevated"
)

func (r Role) Elevated() bool {
	return r == RoleElevated
}

// Actor 发起操作的身份
type Actor struct {
	UserID int64
	Role   Role
}

// AvailableDates 按时间顺序惰性生成可预约日期
// 普通用户从明天开始，管理员可预约今天；只返回配送星期内、未被占用的日期，范围为 today 起 horizonDays 天
func AvailableDates(today time.Time, role Role, weekdays []time.Weekday, scheduled map[string]struct{}, horizonDays int) iter.Seq[time.Time] {
	start := truncateDay(today)
	end := start.AddDate(0, 0, horizonDays)
	if !role.Elevated() {
		start = start.AddDate(0, 0, 1)
	}

	allowed := make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		allowed[wd] = true
	}

	return func(yield func(time.Time) bool) {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if !allowed[d.Weekday()] {
				continue
			}
			if _, taken := scheduled[model.FormatDate(d)]; taken {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// FirstN 取前 n 个日期，不足时返回全部
func FirstN(seq iter.Seq[time.Time], n int) []time.Time {
	if n <= 0 {
		return nil
	}
	dates := make([]time.Time, 0, n)
	for d := range seq {
		dates = append(dates, d)
		if len(dates) == n {
			break
		}
	}
	return dates
}

// InMonth 过滤出指定月份的日期，序列有序，越过该月即停止
func InMonth(seq iter.Seq[time.Time], year int, month time.Month) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for d := range seq {
			if d.Year() > year || (d.Year() == year && d.Month() > month) {
				return
			}
			if d.Year() != year || d.Month() != month {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
