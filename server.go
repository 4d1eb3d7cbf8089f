package mortality

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// fallbackTipFloor is served when the upstream tip floor cannot be reached.
const fallbackTipFloor = 5000

// Server exposes the tip-floor proxy, wallet and main wallet backups and
// metrics over HTTP.
type Server struct {
	store       *Store
	tipFloorURL string
	client      *http.Client
	metrics     *Metrics
	log         *logrus.Entry
	engine      *gin.Engine
}

func NewServer(store *Store, tipFloorURL string, metrics *Metrics) *Server {
	if tipFloorURL == "" {
		tipFloorURL = TipFloorURL
	}
	s := &Server{
		store:       store,
		tipFloorURL: tipFloorURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		metrics:     metrics,
		log:         logger.WithField("component", "http"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/api")
	api.GET("/jito-tip", s.jitoTip)
	api.POST("/backup-wallets", s.backupWallets)
	api.POST("/backup-generated-wallets", s.backupGeneratedWallets)
	api.POST("/backup-main-wallet", s.backupMainWallet)

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

func (s *Server) jitoTip(c *gin.Context) {
	body, err := fetchTipFloor(c.Request.Context(), s.client, s.tipFloorURL)
	if err == nil {
		_, err = parseTipFloor(body)
	}
	if err != nil {
		s.metrics.tipFetch("error")
		s.log.WithError(err).Warn("tip floor unavailable, serving fallback")
		c.JSON(http.StatusOK, gin.H{
			"landed_tips_75th_percentile": fallbackTipFloor,
			"error":                       "Error fetching data, using fallback value",
		})
		return
	}
	s.metrics.tipFetch("ok")
	c.Data(http.StatusOK, "application/json", body)
}

type backupRequest struct {
	UserID        string   `json:"userId"`
	Wallets       []Wallet `json:"wallets"`
	OperationType string   `json:"operationType"`
}

func (s *Server) backupWallets(c *gin.Context) {
	var req backupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.Wallets == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}
	s.saveBackup(c, req.UserID, "manual", req.Wallets)
}

// backupGeneratedWallets snapshots wallets right after an operation created
// them, so an empty list is rejected.
func (s *Server) backupGeneratedWallets(c *gin.Context) {
	var req backupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || len(req.Wallets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}
	operation := req.OperationType
	if operation == "" {
		operation = "generated"
	}
	s.saveBackup(c, req.UserID, operation, req.Wallets)
}

func (s *Server) saveBackup(c *gin.Context, userID, operation string, wallets []Wallet) {
	b, err := s.store.SaveBackup(c.Request.Context(), userID, operation, wallets)
	if err != nil {
		s.log.WithError(err).WithField("user", userID).Error("saving wallet backup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save backup"})
		return
	}

	s.log.WithFields(logrus.Fields{
		"user":      userID,
		"backup":    b.ID,
		"operation": b.Operation,
		"count":     len(b.Wallets),
	}).Info("wallet backup saved")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type mainBackupRequest struct {
	UserID     string      `json:"userId"`
	Wallet     *MainWallet `json:"wallet"`
	WalletType Role        `json:"walletType"`
}

func (s *Server) backupMainWallet(c *gin.Context) {
	var req mainBackupRequest
	err := c.ShouldBindJSON(&req)
	if err != nil || req.UserID == "" || req.Wallet == nil || req.Wallet.PublicKey == "" || !req.WalletType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	b, err := s.store.SaveMainBackup(c.Request.Context(), req.UserID, req.WalletType, *req.Wallet)
	if err != nil {
		s.log.WithError(err).WithField("user", req.UserID).Error("saving main wallet backup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save backup"})
		return
	}

	s.log.WithFields(logrus.Fields{"user": req.UserID, "backup": b.ID, "role": b.Role}).Info("main wallet backup saved")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
