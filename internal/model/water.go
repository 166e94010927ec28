// Package model はドメインモデルを定義する。
package model

import "time"

// WaterLog は1回分の水分摂取記録（カップ数）を表す。
type WaterLog struct {
	ID        string
	UserID    string
	UserEmail string
	Cups      int
	CreatedAt time.Time
}

// MetricReading は1つの指標の現在値と目標値を表す。
type MetricReading struct {
	Value int
	Goal  int
}

// Percent は目標に対する達成率（0〜100）を返す。目標が0以下の場合は0。
func (m MetricReading) Percent() float64 {
	if m.Goal <= 0 {
		return 0
	}
	p := float64(m.Value) / float64(m.Goal) * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// ActivitySummary はダッシュボードに表示する当日の活動サマリー。
type ActivitySummary struct {
	Steps         MetricReading
	Calories      MetricReading
	ActiveMinutes MetricReading
	WaterCups     MetricReading
	// DailyGoal は4指標の達成率の平均を四捨五入した値（0〜100）。
	DailyGoal int
	// Degraded は部分結果モードで取得に失敗した指標名。
	Degraded []string
}
