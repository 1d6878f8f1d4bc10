package session

// User is the authenticated admin as returned by the LMS auth API.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// DisplayName falls back to a generic label when the API omits the name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return "User"
}

// State is the route guard state machine position.
type State string

const (
	StateBooting         State = "booting"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
)

// Snapshot is a consistent, copy-on-read view of the session.
type Snapshot struct {
	User          *User  `json:"user,omitempty"`
	Token         string `json:"-"`
	SessionID     string `json:"-"`
	Authenticated bool   `json:"isAuthenticated"`
	Loading       bool   `json:"loading"`
}

// State derives the guard state from the snapshot.
func (s Snapshot) State() State {
	switch {
	case s.Loading:
		return StateBooting
	case s.Authenticated:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}
