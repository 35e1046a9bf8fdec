package main

import (
	"net/http"
	"time"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/jwt"
	"github.com/CzarSimon/httputil/logger"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var log = logger.GetDefaultLogger("talentsync/main")

func main() {
	e := setupEnv()
	defer e.close()

	server := newServer(e)
	log.Info("Started session-manager listening on port: " + e.cfg.port)

	err := server.ListenAndServe()
	if err != nil {
		log.Error("Unexpected error stoped server.", zap.Error(err))
	}
}

func newServer(e *env) *http.Server {
	r := httputil.NewRouter("session-manager", e.checkHealth)

	// Room presence rides on its own websocket connection. Identity is
	// not enforced here, capacity only applies to durable membership.
	r.GET("/v1/rooms", e.connectRoom)

	rbac := httputil.RBAC{
		Verifier: jwt.NewVerifier(e.cfg.jwtCredentials, time.Minute),
	}
	secured := rbac.Secure("USER")

	sessions := r.Group("/v1/sessions", secured)
	sessions.POST("", e.createSession)
	sessions.GET("", e.listActiveSessions)
	sessions.GET("/:sessionId", e.getSession)
	sessions.POST("/:sessionId/join", e.joinSession)
	sessions.POST("/:sessionId/end", e.endSession)

	r.GET("/v1/users/me/sessions", secured, e.listRecentSessions)
	r.POST("/v1/code/run", secured, e.runCode)

	system := rbac.Secure(jwt.SystemRole)
	r.PUT("/v1/users", system, e.syncUser)
	r.DELETE("/v1/users/:providerId", system, e.deleteUser)

	return &http.Server{
		Addr:    ":" + e.cfg.port,
		Handler: r,
	}
}
