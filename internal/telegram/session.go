package telegram

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"books_nepal/internal/browse"
	"books_nepal/internal/models"
	"books_nepal/internal/parser"
)

// session is one chat's view of the catalog. The overlays are Telegram
// messages: presenting sends one, dismissing deletes it.
type session struct {
	bot     *Bot
	chatID  int64
	query   *browse.QueryCoordinator
	overlay *browse.OverlayCoordinator
	rentals *browse.RentalStore

	mu           sync.Mutex
	books        []models.Book
	page         int
	pageSize     int
	loadingMsgID int
	overlayMsgs  map[browse.OverlayKind]int
}

func newSession(b *Bot, chatID int64, rentals *browse.RentalStore) *session {
	s := &session{
		bot:         b,
		chatID:      chatID,
		rentals:     rentals,
		pageSize:    defaultPageSize,
		overlayMsgs: make(map[browse.OverlayKind]int),
	}

	initial := b.opts.DefaultQuery
	s.query = browse.NewQueryCoordinator(b.ctx, browse.QueryConfig{
		Fetcher:  b.opts.Catalog,
		Clock:    b.opts.Clock,
		Debounce: b.opts.Debounce,
		Initial:  initial,
		OnChange: s.render,
		Log:      b.log.WithField("chat_id", chatID),
	})
	s.overlay = browse.NewOverlayCoordinator(s.query, s)
	return s
}

func (s *session) bookInList(bookID string) (models.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, book := range s.books {
		if book.ID == bookID {
			return book, true
		}
	}
	return models.Book{}, false
}

// render draws a query snapshot: a "searching" note while loading, then the result list.
func (s *session) render(snap browse.Snapshot) {
	if snap.Loading {
		s.showLoading(snap.Query)
		return
	}

	s.mu.Lock()
	loadingID := s.loadingMsgID
	s.loadingMsgID = 0
	s.mu.Unlock()
	s.bot.deleteMessage(s.chatID, loadingID)

	// A failed fetch leaves the previous list on screen.
	if !snap.Result.OK() {
		return
	}

	s.mu.Lock()
	s.books = snap.Books
	s.page = 0
	s.mu.Unlock()

	switch snap.View() {
	case browse.ViewIdle:
		s.bot.sendMessage(s.chatID, "Please search for the books")
	case browse.ViewEmpty:
		msg := tgbotapi.NewMessage(s.chatID, "Oops No Data found")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(filterRow(snap.Query.Category))
		s.bot.send(msg)
	case browse.ViewResults:
		s.bot.sendBooksPage(s, 0)
	}
}

func (s *session) showLoading(q models.SearchQuery) {
	text := fmt.Sprintf("🔎 Searching: %s (%s)…", q.Text, q.Category)

	s.mu.Lock()
	loadingID := s.loadingMsgID
	s.mu.Unlock()

	if loadingID != 0 {
		edit := tgbotapi.NewEditMessageText(s.chatID, loadingID, text)
		if _, err := s.bot.out.Send(edit); err != nil {
			s.bot.log.WithError(err).Debug("edit loading message")
		}
		return
	}

	id := s.bot.send(tgbotapi.NewMessage(s.chatID, text))
	s.mu.Lock()
	s.loadingMsgID = id
	s.mu.Unlock()
}

// Present implements browse.Presenter.
func (s *session) Present(state browse.OverlayState) {
	var id int
	switch state.Kind {
	case browse.OverlayCategoryPicker:
		id = s.bot.sendCategoryPicker(s.chatID, s.query.Snapshot().Query.Category)
	case browse.OverlayBookDetail:
		id = s.bot.sendBookDetails(s.chatID, state.Book, s.rentals.IsRented(state.Book.ID))
	default:
		return
	}

	s.mu.Lock()
	s.overlayMsgs[state.Kind] = id
	s.mu.Unlock()
}

// Dismiss implements browse.Presenter.
func (s *session) Dismiss(state browse.OverlayState) {
	s.mu.Lock()
	id := s.overlayMsgs[state.Kind]
	delete(s.overlayMsgs, state.Kind)
	s.mu.Unlock()

	s.bot.deleteMessage(s.chatID, id)
}

func filterRow(category string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗂 Filter: "+category, cbFilter),
	)
}

func clampPage(page, totalPages int) int {
	if totalPages <= 0 {
		return 0
	}
	if page < 0 {
		return 0
	}
	if page >= totalPages {
		return totalPages - 1
	}
	return page
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func (b *Bot) buildPage(s *session, page int) (string, tgbotapi.InlineKeyboardMarkup, bool) {
	s.mu.Lock()
	books := s.books
	pageSize := s.pageSize
	s.mu.Unlock()

	if len(books) == 0 {
		return "", tgbotapi.InlineKeyboardMarkup{}, false
	}

	total := len(books)
	pages := totalPages(total, pageSize)
	page = clampPage(page, pages)

	start := page * pageSize
	end := min(start+pageSize, total)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, book := range books[start:end] {
		text := fmt.Sprintf("%s - %s", book.Title, book.AuthorLine())
		if s.rentals.IsRented(book.ID) {
			text = "✅ " + text
		}
		btn := tgbotapi.NewInlineKeyboardButtonData(parser.Truncate(text, 60), cbBookPrefix+book.ID)
		rows = append(rows, []tgbotapi.InlineKeyboardButton{btn})
	}

	if pages > 1 {
		var navRow []tgbotapi.InlineKeyboardButton
		if page > 0 {
			navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("⬅️", fmt.Sprintf("%s%d", cbPagePrefix, page-1)))
		}
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("• %d/%d •", page+1, pages),
			fmt.Sprintf("%s%d", cbPagePrefix, page),
		))
		if page < pages-1 {
			navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("➡️", fmt.Sprintf("%s%d", cbPagePrefix, page+1)))
		}
		rows = append(rows, navRow)
	}

	snap := s.query.Snapshot()
	rows = append(rows, filterRow(snap.Query.Category))

	s.mu.Lock()
	s.page = page
	s.mu.Unlock()

	text := fmt.Sprintf("📚 Found %d books for “%s” in %s\nPage %d/%d", total, snap.Query.Text, snap.Query.Category, page+1, pages)
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func (b *Bot) sendBooksPage(s *session, page int) {
	text, markup, ok := b.buildPage(s, page)
	if !ok {
		b.sendMessage(s.chatID, "Please search for the books")
		return
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ReplyMarkup = markup
	b.send(msg)
}

func (b *Bot) editBooksPage(s *session, messageID int, page int) {
	text, markup, ok := b.buildPage(s, page)
	if !ok {
		b.sendMessage(s.chatID, "These results are out of date. Send your search again.")
		return
	}

	edit := tgbotapi.NewEditMessageText(s.chatID, messageID, text)
	edit.ReplyMarkup = &markup
	if _, err := b.out.Send(edit); err != nil {
		b.log.WithError(err).Debug("edit page")
	}
}

func (b *Bot) sendCategoryPicker(chatID int64, current string) int {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, c := range models.Categories {
		label := c
		if c == current {
			label = "• " + c
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s%d", cbCategoryPrefix, i)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✖ Close", cbClose)))

	msg := tgbotapi.NewMessage(chatID, "Filter By Category")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return b.send(msg)
}

const (
	maxCaption = 1024
	maxText    = 4096
)

func detailCaption(book models.Book) string {
	var sb strings.Builder
	title := book.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&sb, "📖 %s\n✍️ %s", title, book.AuthorLine())
	if book.PublishedDate != "" {
		fmt.Fprintf(&sb, "\n📅 %s", book.PublishedDate)
	}
	if desc := parser.PlainText(book.Description); desc != "" {
		sb.WriteString("\n\n")
		sb.WriteString(desc)
	}
	return sb.String()
}

func detailMarkup(book models.Book, rented bool) tgbotapi.InlineKeyboardMarkup {
	action := tgbotapi.NewInlineKeyboardButtonData("Rent Book", cbRentPrefix+book.ID)
	if rented {
		action = tgbotapi.NewInlineKeyboardButtonData("Return Book", cbReturnPrefix+book.ID)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(action),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✖ Close", cbClose)),
	)
}

// sendBookDetails sends the detail card, with the cover when it can be downloaded.
func (b *Bot) sendBookDetails(chatID int64, book models.Book, rented bool) int {
	caption := detailCaption(book)
	markup := detailMarkup(book, rented)

	if book.ThumbnailURL != "" {
		if cover := b.cover(book.ThumbnailURL); len(cover) > 0 {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "cover.jpg", Bytes: cover})
			photo.Caption = parser.Truncate(caption, maxCaption)
			photo.ReplyMarkup = markup
			if id := b.send(photo); id != 0 {
				return id
			}
		}
	}

	msg := tgbotapi.NewMessage(chatID, parser.Truncate(caption, maxText))
	msg.ReplyMarkup = markup
	return b.send(msg)
}

// cover returns the image for url from the disk cache, downloading it on a miss.
func (b *Bot) cover(url string) []byte {
	if b.opts.Covers != nil {
		data, ok, err := b.opts.Covers.Get(url)
		if err != nil {
			b.log.WithError(err).Debug("cover cache read")
		}
		if ok {
			return data
		}
	}

	data, err := b.opts.Catalog.DownloadBytes(b.ctx, url)
	if err != nil {
		b.log.WithError(err).Debug("cover download")
		return nil
	}
	if b.opts.Covers != nil && len(data) > 0 {
		if err := b.opts.Covers.Put(url, data); err != nil {
			b.log.WithError(err).Debug("cover cache write")
		}
	}
	return data
}

func (b *Bot) sendRentedList(s *session) {
	ids := s.rentals.IDs()
	if len(ids) == 0 {
		b.sendMessage(s.chatID, "You have not rented any books yet.")
		return
	}

	known := map[string]models.Book{}
	if b.opts.Books != nil {
		books, err := b.opts.Books.GetBooks(b.ctx, ids)
		if err != nil {
			b.log.WithError(err).Warn("read rented books")
		}
		for _, book := range books {
			known[book.ID] = book
		}
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, id := range ids {
		label := id
		if book, ok := known[id]; ok && book.Title != "" {
			label = book.Title
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(parser.Truncate(label, 60), cbBookPrefix+id),
		))
	}

	msg := tgbotapi.NewMessage(s.chatID, fmt.Sprintf("📚 Rented books: %d", len(ids)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}
