package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"books_nepal/internal/browse"
	"books_nepal/internal/logger"
	"books_nepal/internal/metrics"
	"books_nepal/internal/models"
	"books_nepal/internal/parser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Catalog is the remote search the API proxies.
type Catalog interface {
	browse.Fetcher
	FetchBook(ctx context.Context, id string) (models.Book, error)
}

// Store is the local user and book cache.
type Store interface {
	EnsureUser(ctx context.Context, telegramID int64, username string) error
	UpsertBook(ctx context.Context, book models.Book) error
	GetBooks(ctx context.Context, ids []string) ([]models.Book, error)
}

type Options struct {
	Catalog  Catalog
	Store    Store
	Rentals  *browse.RentalDirectory
	Verifier *InitDataVerifier

	DefaultCategory string
	RateLimit       float64
	RateBurst       int
}

type Server struct {
	opts     Options
	limiters *limiterSet
}

func New(opts Options) *Server {
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = models.Categories[0]
	}
	return &Server{
		opts:     opts,
		limiters: newLimiterSet(rate.Limit(opts.RateLimit), opts.RateBurst),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("GET /api/books", s.withUser(s.handleBooks))
	mux.HandleFunc("GET /api/rentals", s.withUser(s.handleRentals))
	mux.HandleFunc("POST /api/rentals/{id}", s.withUser(s.handleRent))
	mux.HandleFunc("DELETE /api/rentals/{id}", s.withUser(s.handleReturn))
	mux.Handle("GET /metrics", promhttp.Handler())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(logger.WithRequestID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		// The mux fills in the matched pattern; unmatched paths share one label.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		metrics.HttpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.HttpRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

		logger.From(r.Context()).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": rec.status,
			"took":   time.Since(start).String(),
		}).Info("http request")
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, user TelegramUser)

// withUser authenticates the request by its Mini App initData.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.From(r.Context())

		user, err := s.opts.Verifier.Verify(extractInitData(r))
		if err != nil {
			log.WithError(err).WithField("remote", r.RemoteAddr).Warn("auth: rejected")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if err := s.opts.Store.EnsureUser(r.Context(), user.ID, user.Username); err != nil {
			log.WithError(err).Error("auth: ensure user")
			writeError(w, http.StatusInternalServerError, "db error")
			return
		}

		next(w, r, user)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": models.Categories,
		"default":    s.opts.DefaultCategory,
	})
}

type bookDTO struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	Description   string   `json:"description,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	Rented        bool     `json:"rented"`
}

func toDTO(book models.Book, rented bool) bookDTO {
	authors := book.Authors
	if authors == nil {
		authors = []string{}
	}
	return bookDTO{
		ID:            book.ID,
		Title:         book.Title,
		Authors:       authors,
		Thumbnail:     book.ThumbnailURL,
		Description:   parser.SafeHTML(book.Description),
		PublishedDate: book.PublishedDate,
		Rented:        rented,
	}
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user TelegramUser) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	category := r.URL.Query().Get("category")
	if category == "" {
		category = s.opts.DefaultCategory
	}
	if !models.IsCategory(category) {
		writeError(w, http.StatusBadRequest, browse.ErrUnknownCategory.Error())
		return
	}

	// Empty text never reaches the catalog.
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"books": []bookDTO{}})
		return
	}

	if !s.limiters.allow(user.ID) {
		writeError(w, http.StatusTooManyRequests, "too many searches, slow down")
		return
	}

	books, err := s.opts.Catalog.FetchCatalog(r.Context(), query, category)
	if err != nil {
		logger.From(r.Context()).WithError(err).Warn("books: catalog search failed")
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}

	rentals := s.opts.Rentals.For(r.Context(), user.ID)
	out := make([]bookDTO, 0, len(books))
	for _, book := range books {
		out = append(out, toDTO(book, rentals.IsRented(book.ID)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": out})
}

func (s *Server) handleRentals(w http.ResponseWriter, r *http.Request, user TelegramUser) {
	ids := s.opts.Rentals.For(r.Context(), user.ID).IDs()

	known := map[string]models.Book{}
	if len(ids) > 0 {
		books, err := s.opts.Store.GetBooks(r.Context(), ids)
		if err != nil {
			logger.From(r.Context()).WithError(err).Warn("rentals: read cached books")
		}
		for _, book := range books {
			known[book.ID] = book
		}
	}

	out := make([]bookDTO, 0, len(ids))
	for _, id := range ids {
		book, ok := known[id]
		if !ok {
			book = models.Book{ID: id}
		}
		out = append(out, toDTO(book, true))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rentals": out})
}

type rentalResponse struct {
	ID     string `json:"id"`
	Rented bool   `json:"rented"`
	Saved  bool   `json:"saved"`
}

func (s *Server) handleRent(w http.ResponseWriter, r *http.Request, user TelegramUser) {
	id := r.PathValue("id")

	// Cache the metadata so rental lists can show a title later.
	if book, err := s.opts.Catalog.FetchBook(r.Context(), id); err != nil {
		logger.From(r.Context()).WithError(err).WithField("book_id", id).Debug("rent: fetch book")
	} else if err := s.opts.Store.UpsertBook(r.Context(), book); err != nil {
		logger.From(r.Context()).WithError(err).Warn("rent: cache book")
	}

	rentals := s.opts.Rentals.For(r.Context(), user.ID)
	res := rentals.Rent(r.Context(), id)
	writeJSON(w, http.StatusOK, rentalResponse{ID: id, Rented: rentals.IsRented(id), Saved: res.OK()})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request, user TelegramUser) {
	id := r.PathValue("id")
	rentals := s.opts.Rentals.For(r.Context(), user.ID)
	res := rentals.Return(r.Context(), id)
	writeJSON(w, http.StatusOK, rentalResponse{ID: id, Rented: rentals.IsRented(id), Saved: res.OK()})
}

// limiterSet keeps one token bucket per Telegram user.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*rate.Limiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{limit: limit, burst: burst, limiters: make(map[int64]*rate.Limiter)}
}

func (l *limiterSet) allow(userID int64) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func extractInitData(r *http.Request) string {
	if v := r.Header.Get("X-Telegram-InitData"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 4 && strings.EqualFold(auth[:4], "tma ") {
		return strings.TrimSpace(auth[4:])
	}
	// Query fallback for opening the API in a normal browser.
	return r.URL.Query().Get("initData")
}
