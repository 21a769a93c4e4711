package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User 表示平台用户。
//
// OTP 验证码与过期时间要么同时存在、要么同时为空；
// IsEmailVerified 只有在消费过一个有效验证码之后才会变为 true。
type User struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName        string             `bson:"fullName" json:"fullName"`
	Email           string             `bson:"email" json:"email"` // 邮箱（唯一，存储时已转小写）
	Password        string             `bson:"password" json:"-"`  // bcrypt 哈希
	IsEmailVerified bool               `bson:"isEmailVerified" json:"isEmailVerified"`

	OTP        string     `bson:"otp,omitempty" json:"-"`        // 当前验证码（6 位数字）
	OTPExpires *time.Time `bson:"otpExpires,omitempty" json:"-"` // 验证码过期时间
	OTPSentAt  *time.Time `bson:"otpSentAt,omitempty" json:"-"`  // 验证码发送时间（60 秒重发频控）

	WhatsappNumber string `bson:"whatsappNumber,omitempty" json:"whatsappNumber,omitempty"`
	DialNumber     string `bson:"dialNumber,omitempty" json:"dialNumber,omitempty"`
	Hostel         string `bson:"hostel,omitempty" json:"hostel,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasChallenge 返回当前是否存在未消费的验证码。
func (u *User) HasChallenge() bool {
	return u.OTP != "" && u.OTPExpires != nil
}

// ClearChallenge 清除验证码状态（验证成功后调用）。
func (u *User) ClearChallenge() {
	u.OTP = ""
	u.OTPExpires = nil
	u.OTPSentAt = nil
}

// Summary 返回登录/验证接口对外暴露的用户摘要。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:              u.ID.Hex(),
		FullName:        u.FullName,
		Email:           u.Email,
		IsEmailVerified: u.IsEmailVerified,
	}
}

// UserSummary 是不含敏感字段的用户视图。
type UserSummary struct {
	ID              string `json:"id"`
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}
