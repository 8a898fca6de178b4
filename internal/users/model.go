package users

import "time"

// User is an archive owner.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	DatasetPath string    `json:"datasetPath"`
	CreatedAt   time.Time `json:"createdAt"`
}
