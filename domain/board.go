package domain

import "time"

// DefaultTimerSeconds is the countdown length used for boards that have never
// had their timer configured.
const DefaultTimerSeconds = 300

// Column is a named bucket of cards with a display rank. Order is a dense
// rank used only for left-to-right layout and is unrelated to card positions.
type Column struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Order       int    `json:"order"`
	SortByVotes bool   `json:"sortByVotes"`
}

// Board is the retrospective session aggregate: columns, facilitator and the
// shared countdown timer fields. The timer's authoritative state lives here so
// every client derives the same countdown from the same absolute start time.
type Board struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Columns       map[string]Column `json:"columns"`
	FacilitatorID string            `json:"facilitatorId"`
	Active        bool              `json:"isActive"`
	CreatedAt     time.Time         `json:"createdAt"`

	TimerIsRunning               bool       `json:"timerIsRunning"`
	TimerStartTime               *time.Time `json:"timerStartTime"`
	TimerDurationSeconds         int        `json:"timerDurationSeconds"`
	TimerPausedDurationSeconds   *int       `json:"timerPausedDurationSeconds"`
	TimerOriginalDurationSeconds int        `json:"timerOriginalDurationSeconds"`
}

// DefaultColumns returns the column set a board is created with on first
// access to an unknown board id.
func DefaultColumns() map[string]Column {
	return map[string]Column{
		"wentWell":    {ID: "wentWell", Title: "What went well", Order: 0},
		"toImprove":   {ID: "toImprove", Title: "What could be improved", Order: 1},
		"actionItems": {ID: "actionItems", Title: "Action items", Order: 2},
	}
}

// Card is a single note with content, author, votes and a numeric order key.
// Position is unique-enough within a column and not required to be contiguous.
type Card struct {
	ID         string    `json:"id"`
	BoardID    string    `json:"boardId"`
	ColumnID   string    `json:"columnId"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Votes      int       `json:"votes"`
	Position   int64     `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
}
