package models

// ThanksEntry: счётчик благодарностей участника группы.
type ThanksEntry struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}
