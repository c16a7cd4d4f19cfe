package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (h *Handler) Mount(r chi.Router) {
	r.Route(InboxRoute, func(r chi.Router) {
		r.Get("/actor", InstanceActor(h))
		r.Get("/users/{username}", UserActor(h))
		r.Get("/groups/{name}", GroupActor(h))

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Middleware)
			r.Post("/inbox", InstanceInbox(h))
			r.Post("/users/{username}/inbox", UserInbox(h))
			r.Post("/groups/{name}/inbox", GroupInbox(h))
		})
	})

	r.Route(AdminRoute, func(r chi.Router) {
		r.Use(AdminMiddleware(h))

		r.Route("/blocked-instances", func(r chi.Router) {
			r.Get("/", ListBlockedInstances(h))
			r.Post("/", BlockInstance(h))
			r.Get("/check", CheckBlockedInstance(h))
			r.Patch("/{domain}", UpdateBlockedInstance(h))
			r.Delete("/{domain}", UnblockInstance(h))
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/", FederationStats(h))
			r.Get("/deliveries", DeliveryStats(h))
			r.Get("/instances", InstanceFailureStats(h))
			r.Get("/failures", RecentFailures(h))
			r.Get("/engaged-posts", EngagedPosts(h))
		})
	})

	r.Handle("/metrics", promhttp.Handler())
}
