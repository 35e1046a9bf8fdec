package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CzarSimon/httputil/client/rpc"
	"github.com/CzarSimon/httputil/dbutil"
	"github.com/CzarSimon/httputil/id"
	"github.com/CzarSimon/httputil/jwt"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/talentsync/session-manager/internal/models"
	"github.com/talentsync/session-manager/internal/repository"
	"github.com/talentsync/session-manager/internal/service"
	"go.uber.org/zap"
)

func TestCreateSession(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv()
	defer e.db.Close()
	server := newServer(e)

	host := createTestUser(ctx, e.db, "clerk_host", "Alice Host")

	req := createTestRequest("/v1/sessions", http.MethodPost, "USER", host.ProviderID, models.CreateSessionRequest{
		Problem:    "Two Sum",
		Difficulty: "easy",
	})
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var session models.Session
	err := rpc.DecodeJSON(res.Result(), &session)
	assert.NoError(err)
	assert.Equal(models.StatusActive, session.Status)
	assert.Equal(models.DifficultyEasy, session.Difficulty)
	assert.Equal("Two Sum", session.Problem)
	assert.Equal(host.ID, session.HostID)
	assert.Regexp(`^session_\d+_[0-9a-fA-F-]+$`, session.CallID)

	stored, err := repository.NewSessionRepository(e.db).Find(ctx, session.ID)
	assert.NoError(err)
	assert.Equal(session.ID, stored.ID)
	assert.Equal(host.ID, stored.Host.ID)

	req = createTestRequest("/v1/sessions", http.MethodPost, "USER", host.ProviderID, models.CreateSessionRequest{
		Problem: "Two Sum",
	})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusBadRequest, res.Code)

	req = createTestRequest("/v1/sessions", http.MethodPost, "USER", "clerk_ghost", models.CreateSessionRequest{
		Problem:    "Two Sum",
		Difficulty: "easy",
	})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusUnauthorized, res.Code)
}

func TestCreateSession_UnauthorizedAndForbidden(t *testing.T) {
	assert := assert.New(t)
	e, _ := createTestEnv()
	defer e.db.Close()
	server := newServer(e)

	body := models.CreateSessionRequest{Problem: "Two Sum", Difficulty: "easy"}

	req := createTestRequest("/v1/sessions", http.MethodPost, "", "", body)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusUnauthorized, res.Code)

	req = createTestRequest("/v1/sessions", http.MethodPost, "NOT-USER", "clerk_host", body)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusForbidden, res.Code)
}

func TestJoinAndEndSession(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv()
	defer e.db.Close()
	server := newServer(e)

	host := createTestUser(ctx, e.db, "clerk_a", "Alice")
	userB := createTestUser(ctx, e.db, "clerk_b", "Bob")
	userC := createTestUser(ctx, e.db, "clerk_c", "Caroline")
	session := createTestSession(ctx, e.db, host.ID)

	joinPath := fmt.Sprintf("/v1/sessions/%s/join", session.ID)
	req := createTestRequest(joinPath, http.MethodPost, "USER", userB.ProviderID, nil)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var joined models.Session
	err := rpc.DecodeJSON(res.Result(), &joined)
	assert.NoError(err)
	assert.Len(joined.Participants, 1)
	assert.Equal(userB.ID, joined.Participants[0].ID)

	req = createTestRequest(joinPath, http.MethodPost, "USER", userB.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusConflict, res.Code)
	assert.Equal("You have already joined this session", decodeErrorMessage(t, res))

	req = createTestRequest(joinPath, http.MethodPost, "USER", userC.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusConflict, res.Code)
	assert.Equal("Session is full", decodeErrorMessage(t, res))

	endPath := fmt.Sprintf("/v1/sessions/%s/end", session.ID)
	req = createTestRequest(endPath, http.MethodPost, "USER", userB.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusForbidden, res.Code)
	assert.Equal("You are not a host", decodeErrorMessage(t, res))

	req = createTestRequest(endPath, http.MethodPost, "USER", host.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var ended models.Session
	err = rpc.DecodeJSON(res.Result(), &ended)
	assert.NoError(err)
	assert.Equal(models.StatusCompleted, ended.Status)

	req = createTestRequest(endPath, http.MethodPost, "USER", host.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusConflict, res.Code)
	assert.Equal("Session is already completed", decodeErrorMessage(t, res))

	req = createTestRequest(joinPath, http.MethodPost, "USER", userC.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusConflict, res.Code)

	getPath := fmt.Sprintf("/v1/sessions/%s", session.ID)
	req = createTestRequest(getPath, http.MethodGet, "USER", host.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var stored models.Session
	err = rpc.DecodeJSON(res.Result(), &stored)
	assert.NoError(err)
	assert.Equal(host.ID, stored.Host.ID)
	assert.Len(stored.Participants, 1)

	req = createTestRequest("/v1/sessions/"+id.New(), http.MethodGet, "USER", host.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusNotFound, res.Code)
	assert.Equal("Session not found", decodeErrorMessage(t, res))
}

func TestMetricsRoute(t *testing.T) {
	assert := assert.New(t)
	e, _ := createTestEnv()
	defer e.db.Close()
	server := newServer(e)

	req := createTestRequest("/metrics", http.MethodGet, "", "", nil)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)
}

func TestListSessions(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv()
	defer e.db.Close()
	server := newServer(e)

	host := createTestUser(ctx, e.db, "clerk_a", "Alice")
	userB := createTestUser(ctx, e.db, "clerk_b", "Bob")
	userC := createTestUser(ctx, e.db, "clerk_c", "Caroline")

	repo := repository.NewSessionRepository(e.db)
	first := createTestSession(ctx, e.db, host.ID)
	time.Sleep(5 * time.Millisecond)
	second := createTestSession(ctx, e.db, host.ID)
	time.Sleep(5 * time.Millisecond)
	third := createTestSession(ctx, e.db, host.ID)

	err := repo.AddParticipant(ctx, third.ID, userB.ID, 1)
	assert.NoError(err)
	err = repo.Complete(ctx, third.ID, host.ID)
	assert.NoError(err)

	req := createTestRequest("/v1/sessions", http.MethodGet, "USER", userC.ProviderID, nil)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var active []models.Session
	err = rpc.DecodeJSON(res.Result(), &active)
	assert.NoError(err)
	assert.Len(active, 2)
	assert.Equal(second.ID, active[0].ID)
	assert.Equal(first.ID, active[1].ID)

	req = createTestRequest("/v1/users/me/sessions", http.MethodGet, "USER", host.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var recent []models.Session
	err = rpc.DecodeJSON(res.Result(), &recent)
	assert.NoError(err)
	assert.Len(recent, 1)
	assert.Equal(third.ID, recent[0].ID)

	req = createTestRequest("/v1/users/me/sessions", http.MethodGet, "USER", userB.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	recent = nil
	err = rpc.DecodeJSON(res.Result(), &recent)
	assert.NoError(err)
	assert.Len(recent, 1)
	assert.Equal(third.ID, recent[0].ID)

	req = createTestRequest("/v1/users/me/sessions", http.MethodGet, "USER", userC.ProviderID, nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	recent = nil
	err = rpc.DecodeJSON(res.Result(), &recent)
	assert.NoError(err)
	assert.Len(recent, 0)
}

func TestSyncAndDeleteUser(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv()
	defer e.db.Close()
	server := newServer(e)

	event := models.UserSyncEvent{
		ProviderID: "clerk_new",
		Email:      "new@test.com",
		Name:       "New User",
		Avatar:     "https://img.test/new.png",
	}

	req := createTestRequest("/v1/users", http.MethodPut, jwt.SystemRole, "identity-webhook", event)
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var user models.User
	err := rpc.DecodeJSON(res.Result(), &user)
	assert.NoError(err)
	assert.NotEmpty(user.ID)
	assert.Equal("clerk_new", user.ProviderID)

	event.Name = "Renamed User"
	req = createTestRequest("/v1/users", http.MethodPut, jwt.SystemRole, "identity-webhook", event)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var updated models.User
	err = rpc.DecodeJSON(res.Result(), &updated)
	assert.NoError(err)
	assert.Equal(user.ID, updated.ID)
	assert.Equal("Renamed User", updated.Name)

	req = createTestRequest("/v1/users", http.MethodPut, jwt.SystemRole, "identity-webhook", models.UserSyncEvent{})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusBadRequest, res.Code)

	req = createTestRequest("/v1/users", http.MethodPut, "USER", "clerk_new", event)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusForbidden, res.Code)

	req = createTestRequest("/v1/users/clerk_new", http.MethodDelete, jwt.SystemRole, "identity-webhook", nil)
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	_, err = repository.NewUserRepository(e.db).FindByProviderID(ctx, "clerk_new")
	assert.Equal(repository.ErrNoSuchUser, err)
}

func TestRunCode(t *testing.T) {
	assert := assert.New(t)
	e, ctx := createTestEnv()
	defer e.db.Close()

	e.runnerService.BaseURL = "https://runner.test"
	e.runnerService.RPC = &rpc.MockClient{
		Client: rpc.NewClient(time.Second),
		Responses: map[string]rpc.MockResponse{
			"POST:https://runner.test/execute": rpc.MockResponse{
				Body: mockRunnerResponse{
					Run: mockRunnerRun{
						Stdout: "42\n",
						Code:   0,
					},
				},
				Err: nil,
			},
		},
	}
	server := newServer(e)

	user := createTestUser(ctx, e.db, "clerk_user", "Candidate")

	req := createTestRequest("/v1/code/run", http.MethodPost, "USER", user.ProviderID, models.CodeRunRequest{
		Language: "python",
		Code:     "print(40 + 2)",
	})
	res := performTestRequest(server.Handler, req)
	assert.Equal(http.StatusOK, res.Code)

	var result models.CodeRunResult
	err := rpc.DecodeJSON(res.Result(), &result)
	assert.NoError(err)
	assert.Equal("42\n", result.Stdout)
	assert.Equal(0, result.ExitCode)

	req = createTestRequest("/v1/code/run", http.MethodPost, "USER", user.ProviderID, models.CodeRunRequest{
		Language: "cobol",
		Code:     "DISPLAY '42'.",
	})
	res = performTestRequest(server.Handler, req)
	assert.Equal(http.StatusBadRequest, res.Code)
}

func TestRoomRelay(t *testing.T) {
	assert := assert.New(t)
	e, _ := createTestEnv()
	defer e.db.Close()

	e.cfg.port = "34651"
	server := newServer(e)
	go server.ListenAndServe()
	defer server.Close()
	time.Sleep(50 * time.Millisecond)

	url := fmt.Sprintf("ws://127.0.0.1:%s/v1/rooms", e.cfg.port)
	x, xres, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(err)
	assert.Equal(http.StatusSwitchingProtocols, xres.StatusCode)
	defer x.Close()

	y, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(err)
	defer y.Close()

	join := models.RoomEvent{Type: models.TypeJoinRoom, RoomID: "room-0"}
	assert.NoError(x.WriteJSON(join))
	assert.NoError(y.WriteJSON(join))
	time.Sleep(50 * time.Millisecond)

	send := models.RoomEvent{
		Type:    models.TypeSendMessage,
		RoomID:  "room-0",
		Payload: []byte(`{"text":"ping"}`),
	}
	assert.NoError(x.WriteJSON(send))

	var received models.RoomEvent
	err = y.ReadJSON(&received)
	assert.NoError(err)
	assert.Equal(models.TypeReceiveMessage, received.Type)
	assert.JSONEq(`{"text":"ping"}`, string(received.Payload))

	x.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = x.ReadMessage()
	assert.Error(err)
}

// ---- Test utils ----

type mockRunnerRun struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`
}

type mockRunnerResponse struct {
	Run mockRunnerRun `json:"run"`
}

func createTestEnv() (*env, context.Context) {
	cfg := config{
		db:             dbutil.SqliteConfig{},
		port:           "8080",
		migrationsPath: "../resources/db/sqlite",
		jwtCredentials: getTestJWTCredentials(),
		runner: runnerConfig{
			url:     "https://runner.test",
			timeout: time.Second,
		},
		maxParticipants: 1,
	}

	db := dbutil.MustConnect(cfg.db)

	_, err := db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		log.Panic("Failed to enable foreign_keys", zap.Error(err))
	}

	err = dbutil.Downgrade(cfg.migrationsPath, cfg.db.Driver(), db)
	if err != nil {
		log.Panic("Failed to apply downgrade migratons", zap.Error(err))
	}

	err = dbutil.Upgrade(cfg.migrationsPath, cfg.db.Driver(), db)
	if err != nil {
		log.Panic("Failed to apply upgrade migratons", zap.Error(err))
	}

	sessionService := &service.SessionService{
		MaxParticipants: cfg.maxParticipants,
		SessionRepo:     repository.NewSessionRepository(db),
	}

	userService := &service.UserService{
		UserRepo: repository.NewUserRepository(db),
	}

	runnerService := &service.RunnerService{
		BaseURL: cfg.runner.url,
		RPC:     rpc.NewClient(cfg.runner.timeout),
	}

	e := &env{
		cfg:            cfg,
		db:             db,
		sessionService: sessionService,
		userService:    userService,
		runnerService:  runnerService,
		roomHub:        service.NewRoomHub(),
	}

	return e, context.Background()
}

func createTestUser(ctx context.Context, db *sql.DB, providerID, name string) models.User {
	user, err := repository.NewUserRepository(db).Save(ctx, models.User{
		ID:         id.New(),
		ProviderID: providerID,
		Email:      providerID + "@test.com",
		Name:       name,
	})
	if err != nil {
		log.Panic("Failed to save user", zap.Error(err))
	}

	return user
}

func createTestSession(ctx context.Context, db *sql.DB, hostID string) models.Session {
	session := models.Session{
		ID:         id.New(),
		CallID:     models.NewCallID(),
		Problem:    "Two Sum",
		Difficulty: models.DifficultyEasy,
		Status:     models.StatusActive,
		HostID:     hostID,
	}

	err := repository.NewSessionRepository(db).Save(ctx, session)
	if err != nil {
		log.Panic("Failed to save session", zap.Error(err))
	}

	return session
}

func decodeErrorMessage(t *testing.T, res *httptest.ResponseRecorder) string {
	var body struct {
		Message string `json:"message"`
	}
	err := rpc.DecodeJSON(res.Result(), &body)
	if err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	return body.Message
}

func performTestRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createTestRequest(route, method, role, userID string, body interface{}) *http.Request {
	client := rpc.NewClient(time.Second)
	req, err := client.CreateRequest(method, route, body)
	if err != nil {
		log.Fatal("Failed to create request", zap.Error(err))
	}

	span := opentracing.StartSpan(fmt.Sprintf("%s.%s", method, route))
	opentracing.GlobalTracer().Inject(
		span.Context(),
		opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(req.Header),
	)

	if role == "" {
		return req
	}

	issuer := jwt.NewIssuer(getTestJWTCredentials())
	token, err := issuer.Issue(jwt.User{
		ID:    userID,
		Roles: []string{role},
	}, time.Hour)

	req.Header.Add("Authorization", "Bearer "+token)
	return req
}

func getTestJWTCredentials() jwt.Credentials {
	return jwt.Credentials{
		Issuer: "session-manager-test",
		Secret: "very-secret-secret",
	}
}
