package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/amsuru18/FolkTrade/internal/api/auth"
	"github.com/amsuru18/FolkTrade/internal/api/middleware"
	"github.com/amsuru18/FolkTrade/internal/config"
	"github.com/amsuru18/FolkTrade/internal/model"
	"github.com/amsuru18/FolkTrade/internal/otp"
	"github.com/amsuru18/FolkTrade/internal/pkg/media"
	"github.com/amsuru18/FolkTrade/internal/pkg/metrics"
	"github.com/amsuru18/FolkTrade/internal/pkg/notify"
	"github.com/amsuru18/FolkTrade/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Server 封装了 API 服务所需的依赖和路由处理。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	router   *gin.Engine
	auth     *auth.Handler
	otp      *otp.Service
	users    UserStore
	products ProductStore
	media    MediaUploader
	db       *store.Store
}

// UserStore 是商品/资料接口所需的用户存储面。
type UserStore interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
}

// ProductStore 是商品接口所需的存储面。
type ProductStore interface {
	CreateProduct(ctx context.Context, product *model.Product) error
	ListProducts(ctx context.Context) ([]model.Product, error)
	ListProductsBySeller(ctx context.Context, sellerID primitive.ObjectID) ([]model.Product, error)
	FindProductByID(ctx context.Context, id string) (*model.Product, error)
	DeleteProductOwned(ctx context.Context, id string, sellerID primitive.ObjectID) error
}

// MediaUploader 把上传的图片写入外部媒体存储。
type MediaUploader interface {
	Upload(ctx context.Context, filename string, contentType string, r io.Reader) (string, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接文档库并确保索引
// 2. 初始化邮件通知器与媒体上传器
// 3. 组装 OTP 服务、认证处理器与 Gin 路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Connect(ctx, &cfg.Mongo)
	if err != nil {
		return nil, err
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	uploader, err := media.NewUploader(ctx, &cfg.Media, logger)
	if err != nil {
		return nil, err
	}

	otpService := otp.NewService(db, mailer, logger)
	authHandler := auth.NewHandler(db, otpService, cfg.Security.JWTSecret, logger)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.App.FrontendURL, "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           5 * time.Minute,
	}))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   r,
		auth:     authHandler,
		otp:      otpService,
		users:    db,
		products: db,
		media:    uploader,
		db:       db,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 断开文档库连接。
func (s *Server) Close(ctx context.Context) error {
	if s.db != nil {
		return s.db.Close(ctx)
	}
	return nil
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	authGate := middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.users)

	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/signup", s.auth.Signup)
	authGroup.POST("/login", s.auth.Login)
	authGroup.POST("/verify-otp", s.auth.VerifyOTP)
	authGroup.POST("/resend-otp", authGate, s.auth.ResendOTP)

	products := s.router.Group("/api/products")
	products.GET("", s.handleListProducts)
	products.GET("/my", authGate, s.handleMyProducts)
	products.GET("/:id", s.handleGetProduct)
	products.POST("", authGate, s.handleCreateProduct)
	products.DELETE("/:id", authGate, s.handleDeleteProduct)

	user := s.router.Group("/api/user")
	user.Use(authGate)
	user.GET("/profile", s.handleGetProfile)
	user.PUT("/profile", s.handleUpdateProfile)
	user.POST("/email", s.handleChangeEmail)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.db.Ping(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
