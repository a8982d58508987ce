package models

// Identity is the signed-in engineer a lifecycle engine acts for.
// It is taken from the auth provider's token and bound at engine construction.
type Identity struct {
	OwnerID      string `json:"id"`
	OwnerContact string `json:"email"`
}
