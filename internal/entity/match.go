package entity

// MatchSnapshot is the mirrored form of a live match.
type MatchSnapshot struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	State        StateView `json:"state"`
}
