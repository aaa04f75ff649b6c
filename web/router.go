package web

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// NewRouter registers the admin and client routes
func NewRouter(hctx HandlerContext, originPatterns []string) *httprouter.Router {
	router := httprouter.New()

	router.POST("/1/services", hctx.PostServiceHandler)
	router.GET("/1/services", hctx.ListServicesHandler)
	router.DELETE("/1/services/:name", hctx.DeleteServiceHandler)

	router.POST("/1/sessions", hctx.PostSessionHandler)
	router.DELETE("/1/sessions/:id", hctx.DeleteSessionHandler)
	router.POST("/1/sessions/:id/events", hctx.PostEventHandler)
	router.GET("/1/sessions/:id/stream", hctx.StreamHandler)
	router.GET("/1/ws", hctx.WebsocketHandler(originPatterns))

	router.POST("/1/publish", hctx.PublishHandler)

	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}
