package api

const requestBodyMaxSize = 64 * 1024 // 64 KiB

type createCardRequest struct {
	ColumnID   string `json:"columnId"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
}

type updateCardRequest struct {
	Content *string `json:"content"`
}

type voteRequest struct {
	Direction int `json:"direction"`
}

type moveCardRequest struct {
	ToColumn string `json:"toColumn"`
	Index    int    `json:"index"`
}

type updateBoardRequest struct {
	Name          *string `json:"name"`
	FacilitatorID *string `json:"facilitatorId"`
	Active        *bool   `json:"isActive"`
}

type resetTimerRequest struct {
	Seconds int `json:"seconds"`
}

type timerDurationRequest struct {
	Duration string `json:"duration"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// timerTickEvent is the payload of the stream's "timer" events, one per
// second while a countdown runs.
type timerTickEvent struct {
	Remaining int    `json:"remaining"`
	Display   string `json:"display"`
}
