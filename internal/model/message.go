package model

type Message struct {
	ID        string `json:"id" db:"id"`
	Nickname  string `json:"nickname" db:"nickname"`
	Text      string `json:"text" db:"text"`
	Timestamp int64  `json:"timestamp" db:"created_at"`
}
