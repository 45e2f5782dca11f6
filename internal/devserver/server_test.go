package devserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/httplog/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"github.com/vadimbarashkov/url-shortener-client/internal/channel"
	"github.com/vadimbarashkov/url-shortener-client/internal/config"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type ServerTestSuite struct {
	suite.Suite
	logger *httplog.Logger
	clock  *testClock
	srv    *Server
	server *httptest.Server
	e      *httpexpect.Expect
}

func (suite *ServerTestSuite) SetupSuite() {
	suite.logger = httplog.NewLogger("", httplog.Options{Writer: io.Discard})
}

func (suite *ServerTestSuite) SetupSubTest() {
	cfg := config.DevServer{
		JWTSecret:       "test-secret",
		TokenTTL:        time.Hour,
		ShortCodeLength: 6,
	}

	suite.clock = &testClock{now: testNow}
	suite.srv = New(cfg, suite.logger,
		WithClock(suite.clock.Now),
		WithBcryptCost(bcrypt.MinCost),
	)
	suite.server = httptest.NewServer(suite.srv.Router())
	suite.T().Cleanup(func() {
		suite.srv.Close()
		suite.server.Close()
	})

	suite.e = httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  suite.server.URL,
		Reporter: httpexpect.NewAssertReporter(suite.T()),
		Client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

func (suite *ServerTestSuite) register(username string) string {
	return suite.e.POST("/api/auth/local/register").
		WithJSON(map[string]string{
			"username": username,
			"email":    username + "@example.com",
			"password": "password",
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("jwt").String().NotEmpty().Raw()
}

func (suite *ServerTestSuite) create(token string, body map[string]any) *httpexpect.Object {
	return suite.e.POST("/api/short-urls").
		WithHeader("Authorization", "Bearer "+token).
		WithJSON(map[string]any{"data": body}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().
		Value("data").Object()
}

func (suite *ServerTestSuite) TestPing() {
	suite.Run("success", func() {
		suite.e.GET("/health").
			Expect().
			Status(http.StatusOK).
			Text().IsEqual("pong")
	})
}

func (suite *ServerTestSuite) TestDocs() {
	suite.Run("api document", func() {
		suite.e.GET("/docs/swagger.yml").
			Expect().
			Status(http.StatusOK).
			HasContentType("application/yaml").
			Body().Contains("/api/short-urls")
	})

	suite.Run("swagger ui", func() {
		suite.e.GET("/swagger/index.html").
			Expect().
			Status(http.StatusOK).
			HasContentType("text/html")
	})
}

func (suite *ServerTestSuite) TestAuth() {
	suite.Run("register and login", func() {
		suite.register("alice")

		resp := suite.e.POST("/api/auth/local").
			WithJSON(map[string]string{"identifier": "alice@example.com", "password": "password"}).
			Expect().
			Status(http.StatusOK).
			JSON().Object()

		resp.Value("jwt").String().NotEmpty()
		resp.Value("user").Object().
			HasValue("username", "alice").
			HasValue("email", "alice@example.com").
			ContainsKey("id")
	})

	suite.Run("duplicate registration", func() {
		suite.register("alice")

		suite.e.POST("/api/auth/local/register").
			WithJSON(map[string]string{"username": "ALICE", "email": "other@example.com", "password": "password"}).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").Object().
			HasValue("name", "ApplicationError")
	})

	suite.Run("wrong password", func() {
		suite.register("alice")

		suite.e.POST("/api/auth/local").
			WithJSON(map[string]string{"identifier": "alice", "password": "nope"}).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").Object().
			HasValue("status", http.StatusBadRequest).
			HasValue("message", "Invalid identifier or password")
	})

	suite.Run("validation error", func() {
		resp := suite.e.POST("/api/auth/local/register").
			WithJSON(map[string]string{"username": "al", "email": "not-an-email", "password": "password"}).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").Object()

		resp.HasValue("name", "ValidationError")
		resp.Value("details").Object().Value("errors").Array().Length().IsEqual(2)
	})

	suite.Run("empty request body", func() {
		suite.e.POST("/api/auth/local").
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").Object().
			HasValue("message", "Request body is empty.")
	})

	suite.Run("me", func() {
		token := suite.register("alice")

		suite.e.GET("/api/users/me").
			WithHeader("Authorization", "Bearer "+token).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			HasValue("username", "alice")
	})

	suite.Run("missing token", func() {
		suite.e.GET("/api/users/me").
			Expect().
			Status(http.StatusUnauthorized).
			JSON().Object().
			Value("error").Object().
			HasValue("name", "UnauthorizedError")
	})

	suite.Run("expired token", func() {
		token := suite.register("alice")
		suite.clock.Set(testNow.Add(2 * time.Hour))

		suite.e.GET("/api/short-urls").
			WithHeader("Authorization", "Bearer "+token).
			Expect().
			Status(http.StatusUnauthorized)
	})
}

func (suite *ServerTestSuite) TestShortURLs() {
	suite.Run("create and list", func() {
		token := suite.register("alice")

		first := suite.create(token, map[string]any{"originalUrl": "https://a.example.com"})
		first.Value("shortCode").String().Length().IsEqual(6)
		first.HasValue("clicks", 0)

		suite.create(token, map[string]any{
			"originalUrl":    "https://b.example.com",
			"customCode":     "my-code",
			"expirationDate": testNow.Add(time.Hour).Format(time.RFC3339),
		}).HasValue("shortCode", "my-code").ContainsKey("expirationDate")

		resp := suite.e.GET("/api/short-urls").
			WithHeader("Authorization", "Bearer "+token).
			Expect().
			Status(http.StatusOK).
			JSON().Object()

		resp.Value("meta").Object().HasValue("total", 2)
		resp.Value("data").Array().Value(0).Object().HasValue("shortCode", "my-code")
	})

	suite.Run("list is scoped to the owner", func() {
		alice := suite.register("alice")
		bob := suite.register("bob")
		suite.create(alice, map[string]any{"originalUrl": "https://a.example.com"})

		suite.e.GET("/api/short-urls").
			WithHeader("Authorization", "Bearer "+bob).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("data").Array().IsEmpty()
	})

	suite.Run("custom code conflict", func() {
		token := suite.register("alice")
		suite.create(token, map[string]any{"originalUrl": "https://a.example.com", "customCode": "taken"})

		suite.e.POST("/api/short-urls").
			WithHeader("Authorization", "Bearer "+token).
			WithJSON(map[string]any{"data": map[string]any{"originalUrl": "https://b.example.com", "customCode": "taken"}}).
			Expect().
			Status(http.StatusConflict).
			JSON().Object().
			Value("error").Object().
			HasValue("name", "ConflictError")
	})

	suite.Run("invalid input", func() {
		token := suite.register("alice")

		for _, data := range []map[string]any{
			{"originalUrl": "not a url"},
			{"originalUrl": "https://a.example.com", "customCode": "admin"},
			{"originalUrl": "https://a.example.com", "customCode": "x"},
			{"originalUrl": "https://a.example.com", "expirationDate": testNow.Add(-time.Hour).Format(time.RFC3339)},
		} {
			suite.e.POST("/api/short-urls").
				WithHeader("Authorization", "Bearer "+token).
				WithJSON(map[string]any{"data": data}).
				Expect().
				Status(http.StatusBadRequest).
				JSON().Object().
				Value("error").Object().
				HasValue("name", "ValidationError")
		}
	})

	suite.Run("delete", func() {
		alice := suite.register("alice")
		bob := suite.register("bob")
		id := suite.create(alice, map[string]any{"originalUrl": "https://a.example.com"}).
			Value("id").Number().Raw()
		path := "/api/short-urls/" + formatID(id)

		suite.e.DELETE(path).
			WithHeader("Authorization", "Bearer "+bob).
			Expect().
			Status(http.StatusNotFound)

		suite.e.DELETE(path).
			WithHeader("Authorization", "Bearer "+alice).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("data").Object().HasValue("id", id)

		suite.e.DELETE(path).
			WithHeader("Authorization", "Bearer "+alice).
			Expect().
			Status(http.StatusNotFound)
	})

	suite.Run("click, redirect and analytics", func() {
		token := suite.register("alice")
		id := suite.create(token, map[string]any{"originalUrl": "https://a.example.com", "customCode": "abc"}).
			Value("id").Number().Raw()

		suite.e.POST("/api/short-urls/abc/click").
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("data").Object().HasValue("clicks", 1)

		suite.e.GET("/abc").
			Expect().
			Status(http.StatusFound).
			Header("Location").IsEqual("https://a.example.com")

		resp := suite.e.GET("/api/short-urls/"+formatID(id)+"/analytics").
			WithHeader("Authorization", "Bearer "+token).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("data").Object()

		resp.HasValue("totalClicks", 2)
		resp.HasValue("shortCode", "abc")
		resp.Value("clicksByDay").Array().Value(0).Object().
			HasValue("date", "2026-10-17").
			HasValue("clicks", 2)
	})

	suite.Run("click on expired url", func() {
		token := suite.register("alice")
		suite.create(token, map[string]any{
			"originalUrl":    "https://a.example.com",
			"customCode":     "soon",
			"expirationDate": testNow.Add(time.Minute).Format(time.RFC3339),
		})
		suite.clock.Set(testNow.Add(time.Minute))

		suite.e.POST("/api/short-urls/soon/click").
			Expect().
			Status(http.StatusGone)
	})

	suite.Run("unknown code", func() {
		suite.e.POST("/api/short-urls/nothing/click").
			Expect().
			Status(http.StatusNotFound).
			JSON().Object().
			Value("error").Object().
			HasValue("name", "NotFoundError")
	})

	suite.Run("availability", func() {
		token := suite.register("alice")
		suite.create(token, map[string]any{"originalUrl": "https://a.example.com", "customCode": "taken"})

		for code, want := range map[string]bool{"free-code": true, "taken": false, "login": false, "x!": false} {
			suite.e.GET("/api/short-urls/check/{code}", code).
				Expect().
				Status(http.StatusOK).
				JSON().Object().
				Value("data").Object().HasValue("available", want)
		}
	})
}

func (suite *ServerTestSuite) dial(token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(suite.server.URL, "http") + "/ws?token=" + token

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { ws.Close() })

	return ws
}

func (suite *ServerTestSuite) read(ws *websocket.Conn) channel.Message {
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg channel.Message
	suite.Require().NoError(ws.ReadJSON(&msg))
	return msg
}

func (suite *ServerTestSuite) TestPushStream() {
	suite.Run("rejects missing token", func() {
		url := "ws" + strings.TrimPrefix(suite.server.URL, "http") + "/ws"

		_, resp, err := websocket.DefaultDialer.Dial(url, nil)

		suite.Error(err)
		suite.Require().NotNil(resp)
		suite.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	suite.Run("room members receive record events", func() {
		token := suite.register("alice")
		ws := suite.dial(token)
		suite.Require().NoError(ws.WriteJSON(channel.Message{Event: channel.EventJoinRoom, Data: []byte(`{"room":"user:1"}`)}))
		suite.Require().NoError(ws.WriteJSON(channel.Message{Event: channel.EventRequestUserStats}))

		stats := suite.read(ws)
		suite.Equal(channel.EventUserStats, stats.Event)
		suite.JSONEq(`{"totalUrls":0,"totalClicks":0}`, string(stats.Data))

		suite.create(token, map[string]any{"originalUrl": "https://a.example.com", "customCode": "abc"})
		created := suite.read(ws)
		suite.Equal(channel.EventURLCreated, created.Event)

		suite.e.POST("/api/short-urls/abc/click").Expect().Status(http.StatusOK)
		click := suite.read(ws)
		suite.Equal(channel.EventClickUpdate, click.Event)
		suite.JSONEq(`{"urlId":1,"clicks":1}`, string(click.Data))

		suite.e.DELETE("/api/short-urls/1").
			WithHeader("Authorization", "Bearer "+token).
			Expect().
			Status(http.StatusOK)
		deleted := suite.read(ws)
		suite.Equal(channel.EventURLDeleted, deleted.Event)
		suite.JSONEq(`{"urlId":1}`, string(deleted.Data))
	})

	suite.Run("cannot join another user's room", func() {
		suite.register("alice")
		bob := suite.register("bob")
		ws := suite.dial(bob)
		suite.Require().NoError(ws.WriteJSON(channel.Message{Event: channel.EventJoinRoom, Data: []byte(`{"room":"user:1"}`)}))
		suite.Require().NoError(ws.WriteJSON(channel.Message{Event: channel.EventRequestUserStats}))

		// The stats reply proves the join was processed before the publish below.
		suite.Equal(channel.EventUserStats, suite.read(ws).Event)

		suite.srv.hub.Publish(1, channel.EventURLDeleted, channel.RecordDeleted{URLID: 7})
		suite.Require().NoError(ws.WriteJSON(channel.Message{Event: channel.EventRequestUserStats}))

		suite.Equal(channel.EventUserStats, suite.read(ws).Event)
	})

	suite.Run("shutdown sends disconnect", func() {
		token := suite.register("alice")
		ws := suite.dial(token)
		suite.Require().NoError(ws.WriteJSON(channel.Message{Event: channel.EventRequestUserStats}))
		suite.read(ws)

		suite.srv.Close()

		msg := suite.read(ws)
		suite.Equal(channel.EventDisconnect, msg.Event)
		suite.JSONEq(`{"reason":"server shutting down"}`, string(msg.Data))
	})
}

func formatID(id float64) string {
	return strconv.FormatInt(int64(id), 10)
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
