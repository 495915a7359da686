package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/minervavault/vault/internal/middleware"
	"github.com/sirupsen/logrus"
)

const uuidPattern = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

func NewRouter(
	authHandlers *AuthHandlers,
	userHandlers *UserHandlers,
	thesisHandlers *ThesisHandlers,
	authMiddleware *middleware.AuthMiddleware,
	auditMiddleware *middleware.AuditMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	audit := auditMiddleware.Audit

	router.Handle("/auth/login/", audit("LOGIN", "AUTH", "auth")(http.HandlerFunc(authHandlers.Login))).Methods("POST", "OPTIONS")
	router.HandleFunc("/auth/refresh/", authHandlers.Refresh).Methods("POST", "OPTIONS")
	router.Handle("/user/", audit("POST", "USERS", "users")(http.HandlerFunc(userHandlers.Create))).Methods("POST", "OPTIONS")

	protected := router.NewRoute().Subrouter()
	protected.Use(authMiddleware.RequireAuth)

	protected.Handle("/user/me/", audit("GET", "USERS", "users")(http.HandlerFunc(userHandlers.Me))).Methods("GET", "OPTIONS")
	protected.Handle("/user/roles/", audit("GET", "USERS", "user_roles")(http.HandlerFunc(userHandlers.Roles))).Methods("GET", "OPTIONS")
	protected.Handle("/user/", audit("GET", "USERS", "users")(http.HandlerFunc(userHandlers.List))).Methods("GET", "OPTIONS")
	protected.Handle("/user/change_password/", audit("PATCH", "USERS", "users")(http.HandlerFunc(userHandlers.ChangePassword))).Methods("PATCH", "OPTIONS")
	protected.Handle("/user/{id:"+uuidPattern+"}/", audit("PATCH", "USERS", "users")(http.HandlerFunc(userHandlers.Update))).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/user/{id:"+uuidPattern+"}/avatar", userHandlers.Avatar).Methods("GET", "OPTIONS")

	protected.HandleFunc("/thesis", thesisHandlers.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/thesis/", thesisHandlers.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/thesis/me", thesisHandlers.Mine).Methods("GET", "OPTIONS")
	protected.HandleFunc("/thesis/{id:"+uuidPattern+"}", thesisHandlers.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/thesis/{id:"+uuidPattern+"}", thesisHandlers.Update).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/thesis/{id:"+uuidPattern+"}", thesisHandlers.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/thesis/{id:"+uuidPattern+"}/pdf", thesisHandlers.PDF).Methods("GET", "OPTIONS")

	return router
}
