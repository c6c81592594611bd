package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minus-twelve/csrfguard"
	"github.com/minus-twelve/csrfguard/token"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
}

type orderRequest struct {
	Item     string `json:"item" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gte=1"`
}

type orderResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", s.guard.Middleware())
	api.GET("/csrf-token", s.guard.IssueHandler())
	api.POST("/auth/local", s.sessions.RateLimitMiddleware(s.limiter), s.login)
	api.GET("/auth/session", s.sessionStatus)
	api.POST("/auth/logout", s.sessions.AuthMiddleware(), s.logout)
	api.POST("/orders", s.sessions.AuthMiddleware(), s.createOrder)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// login opens a session for any username. With the session strategy the
// session's CSRF token is returned in the X-CSRF-Token response header.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	sessionToken, csrfToken, err := s.sessions.CreateSession(c.Request.Context(), req.Username, s.sessions.GetClientIP(c.Request))
	if err != nil {
		s.logger.Error("failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.sessions.SetSessionCookie(c.Writer, sessionToken)
	if s.guard.Strategy().Name() == csrfguard.StrategySession {
		c.Header(token.HeaderName, csrfToken)
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    req.Username,
		"expires_in": int(s.sessions.SessionTTL().Seconds()),
	})
}

func (s *Server) sessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logged_in": s.sessions.IsLoggedIn(c.Request)})
}

func (s *Server) logout(c *gin.Context) {
	if sessionToken, ok := s.sessions.SessionToken(c.Request); ok {
		if err := s.sessions.DestroySession(c.Request.Context(), sessionToken); err != nil {
			s.logger.Error("failed to destroy session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
	s.sessions.ClearSessionCookie(c.Writer)
	s.guard.ClearCookie(c.Writer)
	c.Status(http.StatusNoContent)
}

func (s *Server) createOrder(c *gin.Context) {
	session, _ := csrfguard.SessionFromContext(c)

	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, orderResponse{
		ID:       uuid.NewString(),
		UserID:   session.UserID,
		Item:     req.Item,
		Quantity: req.Quantity,
	})
}
