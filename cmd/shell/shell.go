package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"books_nepal/internal/browse"
	"books_nepal/internal/models"
	"books_nepal/internal/parser"
)

const shellHelp = `Type text to search. Commands:
  /filter        show categories
  /pick N        choose category N
  /open N        show details of result N
  /rent /return  rent or return the open book
  /close         close the open panel
  /rented        list rented books
  /quit          exit`

// bookSaver caches metadata of rented books so /rented can show titles.
type bookSaver interface {
	UpsertBook(ctx context.Context, book models.Book) error
	GetBooks(ctx context.Context, ids []string) ([]models.Book, error)
}

type shell struct {
	ctx     context.Context
	query   *browse.QueryCoordinator
	overlay *browse.OverlayCoordinator
	rentals *browse.RentalStore
	books   bookSaver
	log     *logrus.Entry

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	results []models.Book
}

type shellConfig struct {
	Query   browse.QueryConfig
	Rentals *browse.RentalStore
	Books   bookSaver
	Out     io.Writer
}

func newShell(ctx context.Context, cfg shellConfig) *shell {
	s := &shell{
		ctx:     ctx,
		rentals: cfg.Rentals,
		books:   cfg.Books,
		out:     cfg.Out,
		log:     logrus.WithField("component", "shell"),
	}
	cfg.Query.OnChange = s.render
	s.query = browse.NewQueryCoordinator(ctx, cfg.Query)
	s.overlay = browse.NewOverlayCoordinator(s.query, s)
	return s
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) render(snap browse.Snapshot) {
	if !snap.Loading {
		s.mu.Lock()
		s.results = snap.Books
		s.mu.Unlock()
	}

	switch snap.View() {
	case browse.ViewLoading:
		s.printf("searching %q in %s...\n", snap.Query.Text, snap.Query.Category)
	case browse.ViewIdle:
		s.printf("Please search for the books\n")
	case browse.ViewEmpty:
		if snap.Result.OK() {
			s.printf("Oops No Data found\n")
		}
	case browse.ViewResults:
		if !snap.Result.OK() {
			s.printf("search failed, showing previous results\n")
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d books for %q in %s:\n", len(snap.Books), snap.Query.Text, snap.Query.Category)
		for i, b := range snap.Books {
			mark := " "
			if s.rentals.IsRented(b.ID) {
				mark = "*"
			}
			fmt.Fprintf(&sb, "%s%3d. %s - %s\n", mark, i+1, b.Title, b.AuthorLine())
		}
		s.printf("%s", sb.String())
	}
}

// Present implements browse.Presenter.
func (s *shell) Present(state browse.OverlayState) {
	switch state.Kind {
	case browse.OverlayCategoryPicker:
		current := s.query.Snapshot().Query.Category
		var sb strings.Builder
		sb.WriteString("Filter By Category\n")
		for i, c := range models.Categories {
			mark := " "
			if c == current {
				mark = "•"
			}
			fmt.Fprintf(&sb, "%s%3d. %s\n", mark, i+1, c)
		}
		s.printf("%s", sb.String())
	case browse.OverlayBookDetail:
		b := state.Book
		action := "/rent"
		if s.rentals.IsRented(b.ID) {
			action = "/return"
		}
		s.printf("%s\n%s\n%s\n\n%s\n[%s | /close]\n",
			b.Title, b.AuthorLine(), b.PublishedDate, parser.PlainText(b.Description), action)
	}
}

// Dismiss implements browse.Presenter.
func (s *shell) Dismiss(browse.OverlayState) {}

// execute runs one input line and reports whether the shell should exit.
func (s *shell) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.overlay.CloseAll()
		s.query.SetSearchText(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/filter":
		s.overlay.OpenCategoryPicker()
	case "/pick":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(models.Categories) {
			s.printf("pick a number between 1 and %d\n", len(models.Categories))
			return false
		}
		if err := s.overlay.PickCategory(models.Categories[n-1]); err != nil {
			s.printf("%v\n", err)
		}
	case "/open":
		book, ok := s.resultAt(arg)
		if !ok {
			s.printf("no such result\n")
			return false
		}
		s.overlay.OpenBookDetail(book)
	case "/rent", "/return":
		state := s.overlay.State()
		if state.Kind != browse.OverlayBookDetail {
			s.printf("open a book first\n")
			return false
		}
		s.rentOrReturn(cmd == "/rent", state.Book)
		s.overlay.CloseAll()
	case "/close":
		s.overlay.CloseAll()
	case "/rented":
		s.printRented()
	default:
		s.printf("%s\n", shellHelp)
	}
	return false
}

func (s *shell) resultAt(arg string) (models.Book, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return models.Book{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.results) {
		return models.Book{}, false
	}
	return s.results[n-1], true
}

func (s *shell) rentOrReturn(rent bool, book models.Book) {
	var res browse.Result
	if rent {
		if err := s.books.UpsertBook(s.ctx, book); err != nil {
			s.log.WithError(err).Warn("cache rented book")
		}
		res = s.rentals.Rent(s.ctx, book.ID)
		s.printf("You have rented this book\n")
	} else {
		res = s.rentals.Return(s.ctx, book.ID)
		s.printf("You have returned this book\n")
	}
	if !res.OK() {
		s.printf("(not saved: %v)\n", res.Err)
	}
}

func (s *shell) printRented() {
	ids := s.rentals.IDs()
	if len(ids) == 0 {
		s.printf("You have not rented any books yet.\n")
		return
	}

	titles := map[string]string{}
	books, err := s.books.GetBooks(s.ctx, ids)
	if err != nil {
		s.log.WithError(err).Warn("read rented books")
	}
	for _, b := range books {
		titles[b.ID] = b.Title
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Rented books: %d\n", len(ids))
	for _, id := range ids {
		label := titles[id]
		if label == "" {
			label = id
		}
		fmt.Fprintf(&sb, "  %s\n", label)
	}
	s.printf("%s", sb.String())
}

// completions suggests commands for liner's tab completion.
func completions(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range []string{"/filter", "/pick ", "/open ", "/rent", "/return", "/close", "/rented", "/quit"} {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}
