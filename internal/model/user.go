// Package model はドメインモデルを定義する。
package model

import "time"

// User は学習者を表す。
// 認証情報の発行はこのサービスの範囲外で、ここでは存在確認と表示用の属性のみ扱う。
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}
