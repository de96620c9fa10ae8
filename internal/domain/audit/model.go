package audit

// Table is the store table holding the last-edit singleton.
const Table = "last_edit"

// singletonID is the primary key of the only row in Table.
const singletonID = 1

// LastEdit records who performed the most recent successful mutation and
// when. Timestamp is kept as the store returned it.
type LastEdit struct {
	ID        int    `json:"id"`
	UserName  string `json:"user_name"`
	Timestamp string `json:"timestamp"`
}

// View is the footer shown under every page.
type View struct {
	UserName  string `json:"user_name,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Formatted is Timestamp as dd/mm/YYYY HH:MM, or Timestamp unchanged
	// when it does not parse.
	Formatted string `json:"formatted,omitempty"`
	Text      string `json:"text"`
}

// Placeholder is the footer text when no edit has been recorded.
const Placeholder = "Última edición: —"
