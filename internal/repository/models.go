package repository

import "time"

// User is a registered account. Rows are created only at OTP-verification
// time, so a persisted user is always verified unless flipped manually.
type User struct {
	ID         uint      `gorm:"primaryKey"`
	Username   string    `gorm:"column:username;uniqueIndex;size:64"`
	Password   string    `gorm:"column:password;size:128"`
	Email      string    `gorm:"column:email;uniqueIndex;size:128"`
	IsVerified bool      `gorm:"column:is_verified"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// Diagnosis is a persisted scoring request and its rendered artifacts.
type Diagnosis struct {
	ID           uint      `gorm:"primaryKey"`
	RequestID    string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Username     string    `gorm:"column:username;index;size:64"`
	Label        int       `gorm:"column:label"`
	Confidence   float64   `gorm:"column:confidence"`
	ReportPath   string    `gorm:"column:report_path;size:255"`
	PreviewPath  string    `gorm:"column:preview_path;size:255"`
	SHA1Hash     string    `gorm:"column:sha1_hash;index;size:40"`
	ModelVersion string    `gorm:"column:model_version;size:32"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Diagnosis) TableName() string {
	return "diagnoses"
}
