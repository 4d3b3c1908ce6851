// Package browse holds the state behind the catalog screens: the query being
// searched, the books currently listed, the set of rented books, and which
// overlay (category picker or book detail) is open. Renderers such as the
// Telegram bot and the terminal shell drive these coordinators and draw what
// they report.
package browse
