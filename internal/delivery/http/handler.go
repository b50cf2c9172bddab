package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
	"github.com/egannguyen/go-kafka-social/internal/service"
)

// conflictRetries bounds how often a command is re-run after losing a race.
const conflictRetries = 3

// Commands executes write-side commands.
type Commands interface {
	HandleWithRetry(ctx context.Context, cmd entity.Command, attempts uint) (service.Result, error)
}

// Handler handles HTTP requests for posts.
type Handler struct {
	commands Commands
	posts    repository.PostReadRepository
}

// NewHandler builds the HTTP handler. posts may be nil when this process
// serves commands only; the query routes are then not registered.
func NewHandler(commands Commands, posts repository.PostReadRepository) *Handler {
	return &Handler{commands: commands, posts: posts}
}

func (h *Handler) Configure(g *echo.Group) {
	if h.commands != nil {
		g.POST("/posts", h.createPost)
		g.PUT("/posts/:id/message", h.editMessage)
		g.POST("/posts/:id/likes", h.likePost)
		g.POST("/posts/:id/comments", h.addComment)
		g.PUT("/posts/:id/comments/:commentId", h.editComment)
		g.DELETE("/posts/:id/comments/:commentId", h.removeComment)
		g.DELETE("/posts/:id", h.deletePost)
	}
	if h.posts != nil {
		g.GET("/posts", h.listPosts)
		g.GET("/posts/:id", h.getPost)
	}
}

type createPostRequest struct {
	PostID  string `json:"post_id"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type commentRequest struct {
	Comment  string `json:"comment"`
	Username string `json:"username"`
}

type userRequest struct {
	Username string `json:"username" query:"username"`
}

type commandResponse struct {
	PostID    string `json:"post_id"`
	Version   int    `json:"version"`
	CommentID string `json:"comment_id,omitempty"`
}

func (h *Handler) createPost(c echo.Context) error {
	var req createPostRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if req.PostID == "" {
		req.PostID = uuid.NewString()
	}
	return h.run(c, http.StatusCreated, entity.CreatePostCommand{PostID: req.PostID, Author: req.Author, Message: req.Message})
}

func (h *Handler) editMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return h.run(c, http.StatusOK, entity.EditMessageCommand{PostID: c.Param("id"), Message: req.Message})
}

func (h *Handler) likePost(c echo.Context) error {
	return h.run(c, http.StatusOK, entity.LikePostCommand{PostID: c.Param("id")})
}

func (h *Handler) addComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return h.run(c, http.StatusCreated, entity.AddCommentCommand{PostID: c.Param("id"), Comment: req.Comment, Username: req.Username})
}

func (h *Handler) editComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return h.run(c, http.StatusOK, entity.EditCommentCommand{
		PostID:    c.Param("id"),
		CommentID: c.Param("commentId"),
		Comment:   req.Comment,
		Username:  req.Username,
	})
}

func (h *Handler) removeComment(c echo.Context) error {
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return h.run(c, http.StatusOK, entity.RemoveCommentCommand{PostID: c.Param("id"), CommentID: c.Param("commentId"), Username: req.Username})
}

func (h *Handler) deletePost(c echo.Context) error {
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return h.run(c, http.StatusOK, entity.DeletePostCommand{PostID: c.Param("id"), Username: req.Username})
}

func (h *Handler) run(c echo.Context, status int, cmd entity.Command) error {
	res, err := h.commands.HandleWithRetry(c.Request().Context(), cmd, conflictRetries)
	if err != nil {
		return h.fail(c, err, log.Fields{"command": cmd.CommandName(), "aggregate_id": cmd.AggregateID()})
	}
	return c.JSON(status, commandResponse{PostID: res.AggregateID, Version: res.Version, CommentID: res.CommentID})
}

func (h *Handler) getPost(c echo.Context) error {
	post, err := h.posts.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, log.Fields{"post_id": c.Param("id")})
	}
	return c.JSON(http.StatusOK, post)
}

// listPosts serves GET /posts. Filters are exclusive, checked in the order
// author, min_likes, with_comments.
func (h *Handler) listPosts(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		posts []entity.PostView
		err   error
	)
	switch {
	case c.QueryParam("author") != "":
		posts, err = h.posts.ListByAuthor(ctx, c.QueryParam("author"))
	case c.QueryParam("min_likes") != "":
		n, convErr := strconv.Atoi(c.QueryParam("min_likes"))
		if convErr != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "min_likes must be a non-negative integer"})
		}
		posts, err = h.posts.ListWithLikes(ctx, n)
	case c.QueryParam("with_comments") == "true":
		posts, err = h.posts.ListWithComments(ctx)
	default:
		posts, err = h.posts.ListAll(ctx)
	}
	if err != nil {
		return h.fail(c, err, log.Fields{"query": c.QueryString()})
	}
	if posts == nil {
		posts = []entity.PostView{}
	}
	return c.JSON(http.StatusOK, posts)
}

func (h *Handler) fail(c echo.Context, err error, fields log.Fields) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(fields).Error("Request failed")
		return c.JSON(status, echo.Map{"error": "internal server error"})
	}
	log.WithError(err).WithFields(fields).Debug("Request rejected")
	return c.JSON(status, echo.Map{"error": err.Error()})
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrAlreadyExists), errors.Is(err, entity.ErrConcurrency):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
}

// EnableCORS allows browser clients on any origin.
func EnableCORS(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Response().Header()
		header.Set(echo.HeaderAccessControlAllowOrigin, "*")
		header.Set(echo.HeaderAccessControlAllowMethods, "GET, POST, PUT, DELETE, OPTIONS")
		header.Set(echo.HeaderAccessControlAllowHeaders, echo.HeaderContentType)
		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusOK)
		}
		return next(c)
	}
}

// NewServer builds the echo server with all routes under /api.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(EnableCORS)
	e.Use(requestLogger)
	h.Configure(e.Group("/api"))
	return e
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		log.WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
			"status": c.Response().Status,
		}).Debug("HTTP request")
		return err
	}
}
