package router

import (
	"github.com/gin-gonic/gin"
	"github.com/minhhq/newsletter-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	deliveryHandler := handler.NewDeliveryHandler(deps)

	// Health check endpoint
	r.GET("/health", deliveryHandler.Health)

	delivery := r.Group("/delivery")
	{
		newsletters := delivery.Group("/newsletters")
		{
			// POST /delivery/newsletters/:id/send - synchronous send, real counts
			newsletters.POST("/:id/send", deliveryHandler.SendNewsletter)

			// POST /delivery/newsletters/:id/send-async - queue and acknowledge
			newsletters.POST("/:id/send-async", deliveryHandler.SendNewsletterAsync)

			// POST /delivery/newsletters/:id/batch-send - publish a batch job
			newsletters.POST("/:id/batch-send", deliveryHandler.BatchSend)

			// GET /delivery/newsletters/:id/stats - aggregate outcomes
			newsletters.GET("/:id/stats", deliveryHandler.Stats)
		}

		// GET /delivery/track/:newsletter_id/:subscriber_id - tracking pixel
		delivery.GET("/track/:newsletter_id/:subscriber_id", deliveryHandler.Track)

		// GET /delivery/logs - list delivery logs with filters and pagination
		delivery.GET("/logs", deliveryHandler.ListLogs)

		// GET /delivery/subscriber/:id - logs for one subscriber
		delivery.GET("/subscriber/:id", deliveryHandler.SubscriberLogs)

		// GET /delivery/newsletter/:id - logs for one newsletter
		delivery.GET("/newsletter/:id", deliveryHandler.NewsletterLogs)
	}

	return r
}
