package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"books_nepal/internal/browse"
	"books_nepal/internal/db"
	"books_nepal/internal/models"
	"books_nepal/internal/storage"
)

type sentMessage struct {
	id   int
	text string
	c    tgbotapi.Chattable
}

type fakeSender struct {
	mu       sync.Mutex
	nextID   int
	sent     []sentMessage
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++

	var text string
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		text = m.Text
	case tgbotapi.PhotoConfig:
		text = m.Caption
	case tgbotapi.EditMessageTextConfig:
		text = m.Text
	}
	f.sent = append(f.sent, sentMessage{id: f.nextID, text: text, c: c})
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// find returns the last sent message whose text starts with prefix.
func (f *fakeSender) find(prefix string) (sentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.sent[i].text, prefix) {
			return f.sent[i], true
		}
	}
	return sentMessage{}, false
}

func (f *fakeSender) has(prefix string) func() bool {
	return func() bool {
		_, ok := f.find(prefix)
		return ok
	}
}

func (f *fakeSender) deleted(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok && d.MessageID == id {
			return true
		}
	}
	return false
}

func (f *fakeSender) callbackTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		if c, ok := r.(tgbotapi.CallbackConfig); ok && c.Text != "" {
			out = append(out, c.Text)
		}
	}
	return out
}

type fakeCatalog struct {
	mu        sync.Mutex
	books     map[string][]models.Book
	calls     []models.SearchQuery
	covers    map[string][]byte
	downloads int
}

func (c *fakeCatalog) FetchCatalog(_ context.Context, query string, category string) ([]models.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, models.SearchQuery{Text: query, Category: category})
	return c.books[query], nil
}

func (c *fakeCatalog) FetchBook(context.Context, string) (models.Book, error) {
	return models.Book{}, errors.New("not in test catalog")
}

func (c *fakeCatalog) DownloadBytes(_ context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads++
	if data, ok := c.covers[url]; ok {
		return data, nil
	}
	return nil, errors.New("no such cover")
}

func (c *fakeCatalog) Calls() []models.SearchQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SearchQuery(nil), c.calls...)
}

const (
	chatID  int64 = 42
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

var nepalBooks = []models.Book{
	{ID: "abc123", Title: "Architecture of Nepal", Authors: []string{"Kamal Ranjit"}, Description: "<p>Temples.</p>"},
	{ID: "def456", Title: "Pagodas"},
}

type testBot struct {
	bot     *Bot
	out     *fakeSender
	catalog *fakeCatalog
	clock   *clockwork.FakeClock
	store   *db.Store
	rentals *browse.RentalDirectory
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tb := &testBot{
		out: &fakeSender{},
		catalog: &fakeCatalog{
			books: map[string][]models.Book{
				"Nepal":     nepalBooks,
				"Kathmandu": {{ID: "k1", Title: "Kathmandu Valley", ThumbnailURL: "https://covers.test/k1.jpg"}},
			},
			covers: map[string][]byte{"https://covers.test/k1.jpg": []byte("jpeg")},
		},
		clock: clockwork.NewFakeClock(),
		store: store,
	}
	tb.rentals = browse.NewRentalDirectory(func(owner int64) browse.RentalStorage {
		return store.Rentals(owner)
	}, nil)
	covers, err := storage.NewCovers(filepath.Join(t.TempDir(), "covers"))
	require.NoError(t, err)

	tb.bot = newBot(tb.out, Options{
		Catalog:      tb.catalog,
		Books:        store,
		Covers:       covers,
		Rentals:      tb.rentals,
		Clock:        tb.clock,
		Debounce:     browse.DefaultDebounce,
		DefaultQuery: models.SearchQuery{Text: "Nepal", Category: "Architecture"},
	})
	t.Cleanup(tb.bot.closeSessions)
	return tb
}

// In a private chat the chat id equals the user id.
func command(name string) tgbotapi.Update {
	return commandIn(chatID, chatID, name)
}

func textMessage(text string) tgbotapi.Update {
	return textIn(chatID, chatID, text)
}

func callback(data string) tgbotapi.Update {
	return callbackIn(chatID, chatID, data)
}

func commandIn(chat, user int64, name string) tgbotapi.Update {
	text := "/" + name
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: user, UserName: "reader"},
		Chat:      &tgbotapi.Chat{ID: chat},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func textIn(chat, user int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: user},
		Chat:      &tgbotapi.Chat{ID: chat},
		Text:      text,
	}}
}

func callbackIn(chat, user int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: user},
		Message: &tgbotapi.Message{MessageID: 1000, Chat: &tgbotapi.Chat{ID: chat}},
		Data:    data,
	}}
}

func (tb *testBot) startAndWait(t *testing.T) {
	t.Helper()
	tb.bot.handleUpdate(command("start"))
	require.Eventually(t, tb.out.has("📚 Found 2 books"), waitFor, tick)
}

func (tb *testBot) overlay(t *testing.T) browse.OverlayState {
	t.Helper()
	s, _ := tb.bot.session(chatID, chatID)
	return s.overlay.State()
}

func TestStartRunsInitialQuery(t *testing.T) {
	tb := newTestBot(t)

	tb.startAndWait(t)

	assert.True(t, tb.out.has("Welcome to books Nepal!")())
	assert.Equal(t, []models.SearchQuery{{Text: "Nepal", Category: "Architecture"}}, tb.catalog.Calls())

	list, _ := tb.out.find("📚 Found")
	msg := list.c.(tgbotapi.MessageConfig)
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Equal(t, "Architecture of Nepal - Kamal Ranjit", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "🗂 Filter: Architecture", markup.InlineKeyboard[2][0].Text)
}

func TestTextSearchIsDebounced(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.handleUpdate(textMessage("Kath"))
	tb.clock.Advance(100 * time.Millisecond)
	tb.bot.handleUpdate(textMessage("Kathmandu"))
	tb.clock.Advance(browse.DefaultDebounce)

	require.Eventually(t, tb.out.has("📚 Found 1 books for “Kathmandu”"), waitFor, tick)
	assert.Equal(t, []models.SearchQuery{{Text: "Kathmandu", Category: "Architecture"}}, tb.catalog.Calls())
}

func TestNoResults(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.handleUpdate(textMessage("zzzz"))
	tb.clock.Advance(browse.DefaultDebounce)

	require.Eventually(t, tb.out.has("Oops No Data found"), waitFor, tick)
}

func TestRentAndReturnFromDetail(t *testing.T) {
	ctx := context.Background()
	tb := newTestBot(t)
	tb.startAndWait(t)

	tb.bot.handleUpdate(callback("book:abc123"))
	detail, ok := tb.out.find("📖 Architecture of Nepal")
	require.True(t, ok)
	assert.Contains(t, detail.text, "Temples.")
	assert.Equal(t, browse.OverlayBookDetail, tb.overlay(t).Kind)

	markup := detail.c.(tgbotapi.MessageConfig).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "Rent Book", markup.InlineKeyboard[0][0].Text)

	tb.bot.handleUpdate(callback("rent:abc123"))

	assert.True(t, tb.out.deleted(detail.id))
	assert.Equal(t, browse.OverlayNone, tb.overlay(t).Kind)
	assert.Contains(t, tb.out.callbackTexts(), "You have rented this book")

	ids, err := tb.store.Rentals(chatID).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, ids)

	cached, err := tb.store.GetBook(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Architecture of Nepal", cached.Title)

	tb.bot.handleUpdate(callback("book:abc123"))
	detail, _ = tb.out.find("📖 Architecture of Nepal")
	markup = detail.c.(tgbotapi.MessageConfig).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "Return Book", markup.InlineKeyboard[0][0].Text)

	tb.bot.handleUpdate(callback("ret:abc123"))

	ids, err = tb.store.Rentals(chatID).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Contains(t, tb.out.callbackTexts(), "You have returned this book")
	assert.False(t, tb.rentals.For(ctx, chatID).IsRented("abc123"))
}

func TestCategoryPickerFlow(t *testing.T) {
	tb := newTestBot(t)
	tb.startAndWait(t)

	tb.bot.handleUpdate(command("filter"))
	picker, ok := tb.out.find("Filter By Category")
	require.True(t, ok)
	assert.Equal(t, browse.OverlayCategoryPicker, tb.overlay(t).Kind)

	markup := picker.c.(tgbotapi.MessageConfig).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "• Architecture", markup.InlineKeyboard[0][0].Text)

	fiction := models.CategoryIndex("Fiction")
	tb.bot.handleUpdate(callback("cat:" + strconv.Itoa(fiction)))

	assert.True(t, tb.out.deleted(picker.id))
	assert.Equal(t, browse.OverlayNone, tb.overlay(t).Kind)
	assert.Contains(t, tb.out.callbackTexts(), "Filter: Fiction")
	require.Eventually(t, func() bool { return len(tb.catalog.Calls()) == 2 }, waitFor, tick)
	assert.Equal(t, models.SearchQuery{Text: "Nepal", Category: "Fiction"}, tb.catalog.Calls()[1])
}

func TestUnknownCategoryCallback(t *testing.T) {
	tb := newTestBot(t)
	tb.bot.handleUpdate(command("filter"))

	tb.bot.handleUpdate(callback("cat:99"))

	assert.Contains(t, tb.out.callbackTexts(), "Unknown category")
	assert.Equal(t, browse.OverlayCategoryPicker, tb.overlay(t).Kind)
}

func TestOpeningDetailClosesPicker(t *testing.T) {
	tb := newTestBot(t)
	tb.startAndWait(t)

	tb.bot.handleUpdate(command("filter"))
	picker, _ := tb.out.find("Filter By Category")
	tb.bot.handleUpdate(callback("book:def456"))

	assert.True(t, tb.out.deleted(picker.id))
	state := tb.overlay(t)
	assert.Equal(t, browse.OverlayBookDetail, state.Kind)
	assert.Equal(t, "def456", state.Book.ID)
}

func TestTypingClosesOverlays(t *testing.T) {
	tb := newTestBot(t)
	tb.startAndWait(t)

	tb.bot.handleUpdate(callback("book:def456"))
	detail, _ := tb.out.find("📖 Pagodas")
	tb.bot.handleUpdate(textMessage("Kathmandu"))

	assert.True(t, tb.out.deleted(detail.id))
	assert.Equal(t, browse.OverlayNone, tb.overlay(t).Kind)
}

func TestRentedList(t *testing.T) {
	tb := newTestBot(t)
	tb.startAndWait(t)

	tb.bot.handleUpdate(command("rented"))
	assert.True(t, tb.out.has("You have not rented any books yet.")())

	tb.bot.handleUpdate(callback("book:abc123"))
	tb.bot.handleUpdate(callback("rent:abc123"))
	tb.bot.handleUpdate(command("rented"))

	list, ok := tb.out.find("📚 Rented books: 1")
	require.True(t, ok)
	markup := list.c.(tgbotapi.MessageConfig).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "Architecture of Nepal", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "book:abc123", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestPaging(t *testing.T) {
	assert.Equal(t, 0, totalPages(0, 10))
	assert.Equal(t, 4, totalPages(40, 10))
	assert.Equal(t, 5, totalPages(41, 10))

	assert.Equal(t, 0, clampPage(-1, 4))
	assert.Equal(t, 3, clampPage(9, 4))
	assert.Equal(t, 0, clampPage(2, 0))
}

func TestDetailCaption(t *testing.T) {
	caption := detailCaption(models.Book{
		Title:         "Pagodas",
		PublishedDate: "2001",
		Description:   "<p>One.</p><p>Two.</p>",
	})
	assert.Equal(t, "📖 Pagodas\n✍️ Unknown author\n📅 2001\n\nOne.\nTwo.", caption)
}

func TestDetailWithCoverIsPhotoAndCached(t *testing.T) {
	tb := newTestBot(t)
	tb.bot.handleUpdate(textMessage("Kathmandu"))
	tb.clock.Advance(browse.DefaultDebounce)
	require.Eventually(t, tb.out.has("📚 Found 1 books"), waitFor, tick)

	tb.bot.handleUpdate(callback("book:k1"))
	detail, ok := tb.out.find("📖 Kathmandu Valley")
	require.True(t, ok)
	photo, isPhoto := detail.c.(tgbotapi.PhotoConfig)
	require.True(t, isPhoto)
	assert.Equal(t, []byte("jpeg"), photo.File.(tgbotapi.FileBytes).Bytes)

	tb.bot.handleUpdate(callback("close"))
	tb.bot.handleUpdate(callback("book:k1"))

	tb.catalog.mu.Lock()
	defer tb.catalog.mu.Unlock()
	assert.Equal(t, 1, tb.catalog.downloads)
}

func TestGroupChatRentalsBelongToEachUser(t *testing.T) {
	ctx := context.Background()
	tb := newTestBot(t)

	const (
		group int64 = -100
		alice int64 = 1
		bob   int64 = 2
	)

	tb.bot.handleUpdate(commandIn(group, alice, "start"))
	require.Eventually(t, tb.out.has("📚 Found 2 books"), waitFor, tick)

	tb.bot.handleUpdate(callbackIn(group, bob, "rent:abc123"))

	assert.True(t, tb.rentals.For(ctx, bob).IsRented("abc123"))
	assert.False(t, tb.rentals.For(ctx, alice).IsRented("abc123"))

	bobIDs, err := tb.store.Rentals(bob).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, bobIDs)

	tb.bot.handleUpdate(commandIn(group, alice, "rented"))
	assert.True(t, tb.out.has("You have not rented any books yet.")())

	tb.bot.handleUpdate(commandIn(group, bob, "rented"))
	assert.True(t, tb.out.has("📚 Rented books: 1")())
}
