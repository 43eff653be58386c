package models

import "time"

// User is consulted for admission but not owned by the bot manager. The row
// acts as the admission lock: reservations take a row-level exclusive lock on
// it while counting the user's non-terminal meetings.
type User struct {
	UserID            string    `db:"user_id"`
	MaxConcurrentBots int       `db:"max_concurrent_bots"`
	CreatedAt         time.Time `db:"created_at"`
}
