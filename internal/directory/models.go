package directory

// Contact is a saved counterpart in a user's address book.
type Contact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}
