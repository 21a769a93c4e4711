package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"

	"github.com/amsuru18/FolkTrade/internal/api/middleware"
	"github.com/amsuru18/FolkTrade/internal/model"
	"github.com/amsuru18/FolkTrade/internal/store"

	"github.com/gin-gonic/gin"
)

// phoneRegex 联系电话格式：8-15 位纯数字。
var phoneRegex = regexp.MustCompile(`^\d{8,15}$`)

// handleListProducts 返回公开商品目录（卖家摘要已联表）。
//
// GET /api/products
func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.products.ListProducts(c.Request.Context())
	if err != nil {
		s.logger.Error("list products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}
	c.JSON(http.StatusOK, products)
}

// handleMyProducts 返回当前用户自己的商品。
//
// GET /api/products/my
func (s *Server) handleMyProducts(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}
	products, err := s.products.ListProductsBySeller(c.Request.Context(), user.ID)
	if err != nil {
		s.logger.Error("list my products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}
	c.JSON(http.StatusOK, products)
}

// handleGetProduct 返回单个商品。
//
// GET /api/products/:id
func (s *Server) handleGetProduct(c *gin.Context) {
	product, err := s.products.FindProductByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Product not found"})
			return
		}
		s.logger.Error("get product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}
	c.JSON(http.StatusOK, product)
}

// handleCreateProduct 创建商品，图片在同一请求内上传到媒体存储。
//
// POST /api/products (multipart/form-data)
//
// 媒体上传失败会中止创建，不会留下无图片引用的残缺商品。
func (s *Server) handleCreateProduct(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}

	title := c.PostForm("title")
	priceStr := c.PostForm("price")
	if title == "" || priceStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Title and price are required"})
		return
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	// NaN/Inf 无法被 JSON 编码，落库会毒化整个目录查询；负价一并拒绝
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Title and price are required"})
		return
	}

	category := c.PostForm("category")
	if !model.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid category. Please select a valid category."})
		return
	}

	whatsapp := c.PostForm("whatsapp")
	if whatsapp != "" && !phoneRegex.MatchString(whatsapp) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid WhatsApp number format"})
		return
	}
	dial := c.PostForm("dial")
	if dial != "" && !phoneRegex.MatchString(dial) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid dial number format"})
		return
	}

	imageURL := ""
	if file, err := c.FormFile("image"); err == nil {
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
			return
		}
		defer src.Close()

		imageURL, err = s.media.Upload(c.Request.Context(), file.Filename, file.Header.Get("Content-Type"), src)
		if err != nil {
			s.logger.Error("image upload failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		// 只有"没带图"可以放行，残缺的 multipart 不能静默变成无图商品
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid image upload"})
		return
	}

	product := model.Product{
		Title:       title,
		Price:       price,
		Description: c.PostForm("description"),
		Category:    category,
		Condition:   c.PostForm("condition"),
		Image:       imageURL,
		Whatsapp:    whatsapp,
		Dial:        dial,
		Hostel:      c.PostForm("hostel"),
		Email:       c.PostForm("email"),
		SellerID:    user.ID,
	}
	if err := s.products.CreateProduct(c.Request.Context(), &product); err != nil {
		s.logger.Error("create product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	s.logger.Info("product created",
		slog.String("id", product.ID.Hex()),
		slog.String("seller", user.ID.Hex()),
	)
	c.JSON(http.StatusCreated, product)
}

// handleDeleteProduct 删除当前用户自己的商品。
//
// DELETE /api/products/:id
//
// 非归属者与不存在的 id 得到同一个 404，不泄露商品是否存在。
func (s *Server) handleDeleteProduct(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}

	id := c.Param("id")
	if err := s.products.DeleteProductOwned(c.Request.Context(), id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"message": "Product not found or you are not authorized to delete this product.",
			})
			return
		}
		s.logger.Error("delete product failed", slog.String("id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error while deleting product"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
