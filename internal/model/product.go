package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Categories 是商品分类的固定集合，创建商品时校验。
var Categories = []string{
	"Edible",
	"Clothes",
	"Train Tickets",
	"Notes",
	"Books",
	"Electronics",
	"Furniture",
	"Others",
}

// ValidCategory 返回 category 是否属于固定集合。
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Product 表示一条在售商品。
//
// Seller 是创建后不可变的归属引用；联系方式字段用于平台外交易沟通。
type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Price       float64            `bson:"price" json:"price"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Category    string             `bson:"category" json:"category"`
	Condition   string             `bson:"condition,omitempty" json:"condition,omitempty"`
	Image       string             `bson:"image,omitempty" json:"image,omitempty"` // 媒体存储中的图片 URL

	Whatsapp string `bson:"whatsapp,omitempty" json:"whatsapp,omitempty"` // 8-15 位数字
	Dial     string `bson:"dial,omitempty" json:"dial,omitempty"`         // 8-15 位数字
	Hostel   string `bson:"hostel,omitempty" json:"hostel,omitempty"`
	Email    string `bson:"email,omitempty" json:"email,omitempty"`

	SellerID primitive.ObjectID `bson:"seller" json:"-"`
	Seller   *SellerSummary     `bson:"sellerInfo,omitempty" json:"seller,omitempty"` // 查询时联表填充

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// SellerSummary 是商品上联表出来的卖家摘要。
type SellerSummary struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	FullName string             `bson:"fullName" json:"fullName"`
	Email    string             `bson:"email" json:"email"`
}
