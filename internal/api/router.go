package api

import "net/http"

// Router assembles the route table. Everything except /health sits behind the
// identity gate. The legacy /users/{userId}/connect-twitter aliases route to
// the same handlers as the /x/auth paths; older client builds still call them.
func (h *Handlers) Router() http.Handler {
	gated := http.NewServeMux()

	gated.HandleFunc("GET /users/me", h.MeHandler)
	gated.HandleFunc("GET /users/{userId}", h.GetUserHandler)
	gated.HandleFunc("POST /users/{userId}/connect-twitter", h.ConnectTwitterHandler)
	gated.HandleFunc("DELETE /users/{userId}/disconnect-twitter", h.DisconnectTwitterHandler)
	gated.HandleFunc("POST /users/{userId}/connection-status", h.SetConnectionStatusHandler)

	gated.HandleFunc("POST /x/auth/{userId}/connect", h.ConnectTwitterHandler)
	gated.HandleFunc("DELETE /x/auth/{userId}/disconnect", h.DisconnectTwitterHandler)
	gated.HandleFunc("GET /x/auth/{userId}/status", h.ConnectionStatusHandler)
	gated.HandleFunc("POST /x/auth/{userId}/verify", h.VerifyConnectionHandler)

	gated.HandleFunc("POST /posts", h.CreatePostHandler)
	gated.HandleFunc("GET /posts", h.ListPostsHandler)
	gated.HandleFunc("GET /posts/local/{postIdLocal}", h.GetPostByLocalIDHandler)
	gated.HandleFunc("GET /posts/{id}", h.GetPostHandler)
	gated.HandleFunc("PATCH /posts/{id}", h.UpdatePostHandler)
	gated.HandleFunc("DELETE /posts/{id}", h.DeletePostHandler)

	gated.HandleFunc("GET /engagements", h.ListEngagementsHandler)
	gated.HandleFunc("GET /engagements/local/{postIdLocal}", h.GetEngagementByLocalIDHandler)
	gated.HandleFunc("GET /engagements/{postIdX}", h.GetEngagementHandler)
	gated.HandleFunc("POST /engagements/refresh/batch", h.RefreshEngagementBatchHandler)
	gated.HandleFunc("POST /engagements/refresh/local/{postIdLocal}", h.RefreshEngagementByLocalIDHandler)
	gated.HandleFunc("POST /engagements/refresh/{postIdX}", h.RefreshEngagementHandler)
	gated.HandleFunc("POST /engagements/refreshall", h.RefreshAllEngagementsHandler)

	gated.HandleFunc("POST /notifications/{userId}/register", h.RegisterDeviceHandler)
	gated.HandleFunc("GET /notifications/{userId}/tokens", h.ListDevicesHandler)
	gated.HandleFunc("DELETE /notifications/{userId}/tokens/{token}", h.UnregisterDeviceHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.Handle("/", h.gate.Middleware(gated))
	return mux
}
