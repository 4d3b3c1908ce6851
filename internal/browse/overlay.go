package browse

import (
	"sync"

	"books_nepal/internal/models"
)

type OverlayKind int

const (
	OverlayNone OverlayKind = iota
	OverlayCategoryPicker
	OverlayBookDetail
)

func (k OverlayKind) String() string {
	switch k {
	case OverlayCategoryPicker:
		return "category_picker"
	case OverlayBookDetail:
		return "book_detail"
	default:
		return "none"
	}
}

// OverlayState is the visible overlay. Book is set only for OverlayBookDetail.
type OverlayState struct {
	Kind OverlayKind
	Book models.Book
}

// Presenter shows and removes overlay surfaces. Calls are made while the
// coordinator holds its lock, so implementations must not call back into it.
type Presenter interface {
	Present(state OverlayState)
	Dismiss(state OverlayState)
}

type CategorySetter interface {
	SetCategory(category string) error
}

type nopPresenter struct{}

func (nopPresenter) Present(OverlayState) {}
func (nopPresenter) Dismiss(OverlayState) {}

// OverlayCoordinator keeps the category picker and the book detail mutually
// exclusive.
type OverlayCoordinator struct {
	query     CategorySetter
	presenter Presenter

	mu    sync.Mutex
	state OverlayState
}

func NewOverlayCoordinator(query CategorySetter, presenter Presenter) *OverlayCoordinator {
	if presenter == nil {
		presenter = nopPresenter{}
	}
	return &OverlayCoordinator{query: query, presenter: presenter}
}

func (o *OverlayCoordinator) State() OverlayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OpenCategoryPicker dismisses the book detail, if any, then shows the picker.
func (o *OverlayCoordinator) OpenCategoryPicker() {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.Kind {
	case OverlayCategoryPicker:
		return
	case OverlayBookDetail:
		o.presenter.Dismiss(o.state)
	}
	o.state = OverlayState{Kind: OverlayCategoryPicker}
	o.presenter.Present(o.state)
}

// OpenBookDetail shows book, then dismisses the picker if it was open. An
// open detail for another book is replaced.
func (o *OverlayCoordinator) OpenBookDetail(book models.Book) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.state
	if prev.Kind == OverlayBookDetail {
		if prev.Book.ID == book.ID {
			return
		}
		o.presenter.Dismiss(prev)
	}

	o.state = OverlayState{Kind: OverlayBookDetail, Book: book}
	o.presenter.Present(o.state)

	if prev.Kind == OverlayCategoryPicker {
		o.presenter.Dismiss(prev)
	}
}

// CloseAll dismisses whatever is open. Safe to call in any state.
func (o *OverlayCoordinator) CloseAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Kind == OverlayNone {
		return
	}
	prev := o.state
	o.state = OverlayState{}
	o.presenter.Dismiss(prev)
}

// PickCategory applies category to the query and closes the overlays. An
// unknown category leaves everything as it was.
func (o *OverlayCoordinator) PickCategory(category string) error {
	if err := o.query.SetCategory(category); err != nil {
		return err
	}
	o.CloseAll()
	return nil
}
