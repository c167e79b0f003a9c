package repository

import "errors"

// ErrEmptyQuestionIDs означает попытку сохранить покупку без вопросов
var ErrEmptyQuestionIDs = errors.New("purchase has no question ids")
