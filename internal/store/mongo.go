package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amsuru18/FolkTrade/internal/config"
	"github.com/amsuru18/FolkTrade/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound 记录不存在（或对调用者而言等同于不存在）。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail 邮箱唯一索引冲突。
	ErrDuplicateEmail = errors.New("email already exists")
)

// Store 封装对 users / products 两个集合的访问。
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	products *mongo.Collection
}

// Connect 连接文档库并确保索引存在。
func Connect(ctx context.Context, cfg *config.MongoConfig) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		users:    db.Collection("users"),
		products: db.Collection("products"),
	}

	// 邮箱唯一索引，重复注册在写入层直接拒绝
	_, err = s.users.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure email index: %w", err)
	}
	_, err = s.products.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "seller", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure seller index: %w", err)
	}

	return s, nil
}

// Ping 健康检查。
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 断开连接。
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateUser 插入新用户，邮箱冲突返回 ErrDuplicateEmail。
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindUserByEmail 按邮箱查找用户。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindUserByID 按十六进制 ObjectID 查找用户，非法 id 视为不存在。
func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var user model.User
	err = s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// UpdateUser 整体替换用户文档。
//
// 依赖文档库单文档替换的原子性；omitempty 标签保证已清除的
// OTP 字段从文档中移除而不是留下空值。
func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateProduct 插入新商品。
func (s *Store) CreateProduct(ctx context.Context, product *model.Product) error {
	product.CreatedAt = time.Now()
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	if _, err := s.products.InsertOne(ctx, product); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// sellerLookup 把卖家摘要联到商品文档上（剔除敏感字段）。
func sellerLookup() mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "localField", Value: "seller"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "sellerInfo"},
		}}},
		bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$sellerInfo"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "sellerInfo.password", Value: 0},
			{Key: "sellerInfo.otp", Value: 0},
			{Key: "sellerInfo.otpExpires", Value: 0},
			{Key: "sellerInfo.otpSentAt", Value: 0},
		}}},
	}
}

// ListProducts 返回全部商品，卖家摘要已联表。
func (s *Store) ListProducts(ctx context.Context) ([]model.Product, error) {
	pipeline := append(sellerLookup(),
		bson.D{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}})

	cur, err := s.products.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer cur.Close(ctx)

	products := []model.Product{}
	if err := cur.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return products, nil
}

// ListProductsBySeller 返回某个卖家自己的商品。
func (s *Store) ListProductsBySeller(ctx context.Context, sellerID primitive.ObjectID) ([]model.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := s.products.Find(ctx, bson.M{"seller": sellerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list seller products: %w", err)
	}
	defer cur.Close(ctx)

	products := []model.Product{}
	if err := cur.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return products, nil
}

// FindProductByID 按 id 查找商品，卖家摘要已联表。
func (s *Store) FindProductByID(ctx context.Context, id string) (*model.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	pipeline := append(mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"_id": oid}}},
	}, sellerLookup()...)

	cur, err := s.products.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	defer cur.Close(ctx)

	var products []model.Product
	if err := cur.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	if len(products) == 0 {
		return nil, ErrNotFound
	}
	return &products[0], nil
}

// DeleteProductOwned 删除归属于 sellerID 的商品。
//
// 非归属者与不存在的 id 得到同一个 ErrNotFound，不向外
// 泄露商品是否存在。
func (s *Store) DeleteProductOwned(ctx context.Context, id string, sellerID primitive.ObjectID) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": oid, "seller": sellerID})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
