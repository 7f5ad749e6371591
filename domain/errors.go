package domain

import "errors"

// ErrBoardNotFound indicates the requested board does not exist and could not
// be created.
var ErrBoardNotFound = errors.New("board not found")

// ErrCardNotFound indicates an operation referenced a card absent from the
// board's card list.
var ErrCardNotFound = errors.New("card not found")
