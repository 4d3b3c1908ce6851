package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"books_nepal/internal/browse"
	"books_nepal/internal/models"
)

// sender is the part of *tgbotapi.BotAPI the bot uses to talk to Telegram.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Catalog is the remote book search.
type Catalog interface {
	browse.Fetcher
	FetchBook(ctx context.Context, id string) (models.Book, error)
	DownloadBytes(ctx context.Context, url string) ([]byte, error)
}

// BookCache keeps metadata of books users interacted with.
type BookCache interface {
	EnsureUser(ctx context.Context, telegramID int64, username string) error
	UpsertBook(ctx context.Context, book models.Book) error
	GetBooks(ctx context.Context, ids []string) ([]models.Book, error)
}

// CoverCache stores downloaded cover images.
type CoverCache interface {
	Get(url string) ([]byte, bool, error)
	Put(url string, data []byte) error
}

type Options struct {
	Catalog      Catalog
	Books        BookCache
	Covers       CoverCache
	Rentals      *browse.RentalDirectory
	Debounce     time.Duration
	Clock        clockwork.Clock
	DefaultQuery models.SearchQuery
	MiniAppURL   string
}

type Bot struct {
	api  *tgbotapi.BotAPI
	out  sender
	opts Options
	log  *logrus.Entry

	ctx context.Context

	sessions   map[sessionKey]*session
	sessionsMu sync.Mutex
}

// sessionKey scopes a session to one user in one chat, so members of a group
// each get their own search and their own rentals.
type sessionKey struct {
	chatID int64
	userID int64
}

const (
	defaultPageSize = 10

	cbBookPrefix     = "book:"
	cbPagePrefix     = "page:"
	cbCategoryPrefix = "cat:"
	cbRentPrefix     = "rent:"
	cbReturnPrefix   = "ret:"
	cbFilter         = "filter"
	cbClose          = "close"
)

func NewBot(token string, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	api.Debug = false
	logrus.WithField("username", api.Self.UserName).Info("telegram: authorized")

	b := newBot(api, opts)
	b.api = api
	return b, nil
}

func newBot(out sender, opts Options) *Bot {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Bot{
		out:      out,
		opts:     opts,
		log:      logrus.WithField("component", "telegram"),
		ctx:      context.Background(),
		sessions: make(map[sessionKey]*session),
	}
}

// Start runs the update loop until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.ctx = ctx

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.closeSessions()
			return
		case update, ok := <-updates:
			if !ok {
				b.closeSessions()
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(update.Message)
	}
	if update.CallbackQuery != nil {
		b.handleCallback(update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(msg)
		case "filter":
			s, _ := b.session(chatID, msg.From.ID)
			s.overlay.OpenCategoryPicker()
		case "rented":
			s, _ := b.session(chatID, msg.From.ID)
			b.sendRentedList(s)
		default:
			b.sendMessage(chatID, helpText)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	s, _ := b.session(chatID, msg.From.ID)
	// Typing into the search box closes any open sheet first.
	s.overlay.CloseAll()
	s.query.SetSearchText(text)
}

const helpText = "Send me a title or topic to search.\n" +
	"/filter - choose a category\n" +
	"/rented - books you have rented"

func (b *Bot) handleStart(msg *tgbotapi.Message) {
	if b.opts.Books != nil {
		if err := b.opts.Books.EnsureUser(b.ctx, msg.From.ID, msg.From.UserName); err != nil {
			b.log.WithError(err).Warn("ensure user")
		}
	}

	greeting := tgbotapi.NewMessage(msg.Chat.ID, "Welcome to books Nepal!\n"+helpText)
	if b.opts.MiniAppURL != "" {
		greeting.ReplyMarkup = miniAppMarkup(b.opts.MiniAppURL)
	}
	b.send(greeting)

	s, created := b.session(msg.Chat.ID, msg.From.ID)
	if !created {
		s.overlay.CloseAll()
	}
	s.query.Refresh()
}

// The library version predates Web Apps, so the button is spelled out by hand.
type webAppInfo struct {
	URL string `json:"url"`
}

type webAppButton struct {
	Text   string      `json:"text"`
	WebApp *webAppInfo `json:"web_app,omitempty"`
}

type webAppMarkup struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

func miniAppMarkup(url string) webAppMarkup {
	return webAppMarkup{
		InlineKeyboard: [][]webAppButton{
			{{Text: "Open the catalog app", WebApp: &webAppInfo{URL: url}}},
		},
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		return
	}

	s, _ := b.session(cb.Message.Chat.ID, cb.From.ID)
	data := cb.Data

	switch {
	case strings.HasPrefix(data, cbPagePrefix):
		b.answer(cb, "")
		page, err := strconv.Atoi(strings.TrimPrefix(data, cbPagePrefix))
		if err != nil {
			b.log.WithField("data", data).Warn("invalid page callback")
			return
		}
		b.editBooksPage(s, cb.Message.MessageID, page)

	case data == cbFilter:
		b.answer(cb, "")
		s.overlay.OpenCategoryPicker()

	case data == cbClose:
		b.answer(cb, "")
		s.overlay.CloseAll()

	case strings.HasPrefix(data, cbCategoryPrefix):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, cbCategoryPrefix))
		if err != nil || idx < 0 || idx >= len(models.Categories) {
			b.answer(cb, "Unknown category")
			return
		}
		category := models.Categories[idx]
		if err := s.overlay.PickCategory(category); err != nil {
			b.answer(cb, "Unknown category")
			return
		}
		b.answer(cb, "Filter: "+category)

	case strings.HasPrefix(data, cbBookPrefix):
		b.answer(cb, "")
		bookID := strings.TrimPrefix(data, cbBookPrefix)
		book, ok := b.findBook(s, bookID)
		if !ok {
			b.sendMessage(s.chatID, "This book is no longer available. Search again.")
			return
		}
		s.overlay.OpenBookDetail(book)

	case strings.HasPrefix(data, cbRentPrefix):
		bookID := strings.TrimPrefix(data, cbRentPrefix)
		if book, ok := b.findBook(s, bookID); ok && b.opts.Books != nil {
			if err := b.opts.Books.UpsertBook(b.ctx, book); err != nil {
				b.log.WithError(err).Warn("cache rented book")
			}
		}
		s.rentals.Rent(b.ctx, bookID)
		b.answer(cb, "You have rented this book")
		s.overlay.CloseAll()

	case strings.HasPrefix(data, cbReturnPrefix):
		bookID := strings.TrimPrefix(data, cbReturnPrefix)
		s.rentals.Return(b.ctx, bookID)
		b.answer(cb, "You have returned this book")
		s.overlay.CloseAll()

	default:
		b.answer(cb, "")
	}
}

// findBook looks in the current result list, then the local cache, then the catalog.
func (b *Bot) findBook(s *session, bookID string) (models.Book, bool) {
	if book, ok := s.bookInList(bookID); ok {
		return book, true
	}
	if state := s.overlay.State(); state.Kind == browse.OverlayBookDetail && state.Book.ID == bookID {
		return state.Book, true
	}

	if b.opts.Books != nil {
		books, err := b.opts.Books.GetBooks(b.ctx, []string{bookID})
		if err != nil {
			b.log.WithError(err).Warn("read cached book")
		} else if len(books) == 1 {
			return books[0], true
		}
	}

	book, err := b.opts.Catalog.FetchBook(b.ctx, bookID)
	if err != nil {
		b.log.WithError(err).WithField("book_id", bookID).Warn("fetch book")
		return models.Book{}, false
	}
	return book, true
}

// session returns the user's session in chatID, creating it on first use.
func (b *Bot) session(chatID int64, userID int64) (*session, bool) {
	key := sessionKey{chatID: chatID, userID: userID}

	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()

	if s, ok := b.sessions[key]; ok {
		return s, false
	}

	s := newSession(b, chatID, b.opts.Rentals.For(b.ctx, userID))
	b.sessions[key] = s
	return s, true
}

func (b *Bot) closeSessions() {
	b.sessionsMu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[sessionKey]*session)
	b.sessionsMu.Unlock()

	for _, s := range sessions {
		s.query.Close()
	}
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.out.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.WithError(err).Debug("answer callback")
	}
}

// send returns the id of the sent message, or 0 when sending failed.
func (b *Bot) send(c tgbotapi.Chattable) int {
	msg, err := b.out.Send(c)
	if err != nil {
		b.log.WithError(err).Warn("send message")
		return 0
	}
	return msg.MessageID
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := b.out.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.WithError(err).Debug("delete message")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}
