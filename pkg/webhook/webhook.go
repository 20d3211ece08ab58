// Package webhook implements the inbound HTTP endpoint that turns a
// remote ERP change notification into a pull job: rate limited per
// client IP, token authenticated, parsed, resolved against the module
// registry, and enqueued.
package webhook

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kavachlabs/erpsync/pkg/obs"
	"github.com/kavachlabs/erpsync/pkg/queue"
	"github.com/kavachlabs/erpsync/pkg/ratelimit"
	"github.com/kavachlabs/erpsync/pkg/registry"
)

// rateLimitBurst and rateLimitWindow give the 100-requests-per-60s-per-IP
// allowance a true trailing window rather than a continuous refill, so a
// client that bursts its allowance must wait out the full window before
// its oldest hit ages off.
const (
	rateLimitBurst        = 100
	rateLimitWindow       = 60 * time.Second
	rateLimitCleanupEvery = 5 * time.Minute
)

// body is the inbound JSON payload {model, id, action}.
type body struct {
	Model  string `json:"model" binding:"required"`
	ID     int64  `json:"id" binding:"required"`
	Action string `json:"action" binding:"required"`
}

func validAction(a string) bool {
	switch queue.Action(a) {
	case queue.ActionCreate, queue.ActionUpdate, queue.ActionDelete:
		return true
	default:
		return false
	}
}

// Receiver wires the rate limiter, token check, registry resolution, and
// queue enqueue for a single tenant's webhook endpoint.
type Receiver struct {
	tenant  string
	token   string
	queue   *queue.Repository
	reg     *registry.Registry
	limiter *ratelimit.SlidingWindowLimiter
	logger  *obs.Logger
}

// New builds a Receiver for tenant, authenticated by token, and starts a
// background sweep that evicts idle clients from the rate limiter.
func New(tenant, token string, q *queue.Repository, reg *registry.Registry, logger *obs.Logger) *Receiver {
	if logger == nil {
		logger = obs.Default()
	}
	rv := &Receiver{
		tenant:  tenant,
		token:   token,
		queue:   q,
		reg:     reg,
		limiter: ratelimit.NewSlidingWindowLimiter(rateLimitBurst, rateLimitWindow),
		logger:  logger,
	}

	go func() {
		ticker := time.NewTicker(rateLimitCleanupEvery)
		defer ticker.Stop()
		for range ticker.C {
			rv.limiter.Cleanup()
		}
	}()

	return rv
}

// Register mounts the webhook routes on router.
func (rv *Receiver) Register(router gin.IRouter) {
	router.POST("/webhook", rv.handleWebhook)
	router.GET("/webhook/test", rv.handleTest)
}

// NewRouter builds a standalone gin engine with CORS and the webhook
// routes mounted at the root, for a dedicated listener or tests.
func NewRouter(rv *Receiver) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	rv.Register(router)
	return router
}

func (rv *Receiver) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "alive", "payload": nil})
}

func (rv *Receiver) handleWebhook(c *gin.Context) {
	traceID := uuid.NewString()
	c.Header("X-Trace-Id", traceID)

	if !rv.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"retcode": 429, "message": "rate limit exceeded", "payload": nil})
		return
	}

	supplied := c.GetHeader("X-Auth-Token")
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(rv.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"retcode": 401, "message": "unauthorized", "payload": nil})
		return
	}

	var req body
	if err := c.ShouldBindJSON(&req); err != nil || !validAction(req.Action) {
		c.JSON(http.StatusBadRequest, gin.H{"retcode": 400, "message": "malformed webhook body", "payload": nil})
		return
	}

	mod, entityType, found := rv.resolveModel(req.Model)
	if !found {
		rv.logger.Debug("tenant=%s trace=%s: webhook model %q has no registered module, ignoring", rv.tenant, traceID, req.Model)
		c.Status(http.StatusNoContent)
		return
	}

	remoteID := req.ID
	jobID, err := rv.queue.Enqueue(queue.Spec{
		Tenant:     rv.tenant,
		Module:     mod.ID(),
		EntityType: entityType,
		Direction:  queue.DirectionPull,
		Action:     queue.Action(req.Action),
		RemoteID:   &remoteID,
	})
	if err != nil {
		rv.logger.Error("tenant=%s trace=%s: webhook enqueue failed: %v", rv.tenant, traceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"retcode": 500, "message": "enqueue failed", "payload": nil})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"retcode": 0, "message": "accepted", "payload": gin.H{"job_id": jobID}})
}

func (rv *Receiver) resolveModel(remoteModel string) (registry.Module, string, bool) {
	for _, m := range rv.reg.All() {
		for entityType, rm := range m.RemoteModels() {
			if rm == remoteModel {
				return m, entityType, true
			}
		}
	}
	return nil, "", false
}
