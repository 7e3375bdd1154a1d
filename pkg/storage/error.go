package storage

// NotFoundError is returned when a user doesn't exist in the store.
type NotFoundError struct {
	UserID string
}

func (e NotFoundError) Error() string {
	if e.UserID == "" {
		return "user not found"
	}

	return "user not found: " + e.UserID
}

// ExistsError is returned when creating a user whose ID is already taken.
type ExistsError struct {
	UserID string
}

func (e ExistsError) Error() string {
	return "user already exists: " + e.UserID
}
