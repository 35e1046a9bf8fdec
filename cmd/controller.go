package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/CzarSimon/httputil"
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/talentsync/session-manager/internal/models"
)

func (e *env) createSession(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.createSession")
	defer span.Finish()

	user, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	var body models.CreateSessionRequest
	err := c.ShouldBindJSON(&body)
	if err != nil {
		httpErr := httputil.BadRequestError(err)
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	session, err := e.sessionService.Create(ctx, user.ID, body)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, session)
}

func (e *env) listActiveSessions(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.listActiveSessions")
	defer span.Finish()

	_, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	sessions, err := e.sessionService.FindActive(ctx)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, sessions)
}

func (e *env) listRecentSessions(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.listRecentSessions")
	defer span.Finish()

	user, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	sessions, err := e.sessionService.FindRecent(ctx, user.ID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, sessions)
}

func (e *env) getSession(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.getSession")
	defer span.Finish()

	_, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	session, err := e.sessionService.Find(ctx, c.Param("sessionId"))
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, session)
}

func (e *env) joinSession(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.joinSession")
	defer span.Finish()

	user, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	session, err := e.sessionService.Join(ctx, c.Param("sessionId"), user.ID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, session)
}

func (e *env) endSession(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.endSession")
	defer span.Finish()

	user, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	session, err := e.sessionService.End(ctx, c.Param("sessionId"), user.ID)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, session)
}

func (e *env) runCode(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.runCode")
	defer span.Finish()

	_, ok := e.authenticate(ctx, c)
	if !ok {
		span.LogFields(tracelog.Bool("success", false))
		return
	}

	var body models.CodeRunRequest
	err := c.ShouldBindJSON(&body)
	if err != nil {
		httpErr := httputil.BadRequestError(err)
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	result, err := e.runnerService.Run(ctx, body)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, result)
}

func (e *env) syncUser(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.syncUser")
	defer span.Finish()

	var body models.UserSyncEvent
	err := c.ShouldBindJSON(&body)
	if err != nil {
		httpErr := httputil.BadRequestError(err)
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(httpErr))
		c.Error(httpErr)
		return
	}

	user, err := e.userService.Sync(ctx, body)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	c.JSON(http.StatusOK, user)
}

func (e *env) deleteUser(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.deleteUser")
	defer span.Finish()

	err := e.userService.Delete(ctx, c.Param("providerId"))
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
	httputil.SendOK(c)
}

func (e *env) connectRoom(c *gin.Context) {
	span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "controller.connectRoom")
	defer span.Finish()

	err := e.roomHub.Connect(ctx, c.Writer, c.Request)
	if err != nil {
		span.LogFields(tracelog.Bool("success", false), tracelog.Error(err))
		c.Error(err)
		return
	}

	span.LogFields(tracelog.Bool("success", true))
}

// authenticate resolves the verified principal on the request to a
// local user. The verifier has already checked the token, this only
// maps the provider identity to a user record.
func (e *env) authenticate(ctx context.Context, c *gin.Context) (models.User, bool) {
	principal, ok := httputil.GetPrincipal(c)
	if !ok {
		c.Error(httputil.UnauthorizedError(errors.New("no authenticated principal on request")))
		return models.User{}, false
	}

	user, err := e.userService.Resolve(ctx, principal.ID)
	if err != nil {
		c.Error(err)
		return models.User{}, false
	}

	return user, true
}
