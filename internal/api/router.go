package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"medrelay/internal/models"
	"medrelay/internal/moderation"
	"medrelay/internal/retention"
)

// ModerationService: то, что API нужно от модерации.
type ModerationService interface {
	Apply(ctx context.Context, action moderation.Action, userID int64) (string, error)
	Status(ctx context.Context, userID int64) (models.ModerationStatus, error)
	List(ctx context.Context) ([]models.ModerationRecord, error)
}

// ThanksBoard отдаёт топ благодарностей.
type ThanksBoard interface {
	Top(ctx context.Context, limit int) ([]models.ThanksEntry, error)
}

// RetentionRunner запускает чистку вне расписания.
type RetentionRunner interface {
	RunOnce(ctx context.Context) (retention.Result, error)
}

// Dependencies содержит зависимости для обработчиков API.
type Dependencies struct {
	Moderation     ModerationService
	Thanks         ThanksBoard
	Retention      RetentionRunner
	Metrics        http.Handler
	BotUsername    string
	AdminToken     string
	AllowedOrigins []string
	Log            zerolog.Logger
}

type server struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewRouter настраивает все маршруты административного API.
func NewRouter(deps Dependencies) http.Handler {
	s := &server{deps: deps, log: deps.Log.With().Str("component", "api").Logger()}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", AdminTokenHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AdminTokenMiddleware(deps.AdminToken))

		r.Route("/api/moderation", func(r chi.Router) {
			r.Get("/", s.listModeration)
			r.Get("/export", s.exportModeration)
			r.Get("/{userID}", s.moderationStatus)
			r.Post("/{userID}/mute", s.moderationAction(moderation.ActionMute))
			r.Delete("/{userID}/mute", s.moderationAction(moderation.ActionUnmute))
			r.Post("/{userID}/ban", s.moderationAction(moderation.ActionBan))
			r.Delete("/{userID}/ban", s.moderationAction(moderation.ActionUnban))
		})

		r.Get("/api/thanks/top", s.thanksTop)
		r.Get("/api/start-qr", s.startQR)
		r.Post("/api/retention/run", s.runRetention)
	})

	return r
}
