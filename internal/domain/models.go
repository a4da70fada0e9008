package domain

import "time"

type (
	ClientID   int64
	EndpointID int64
	CheckID    int64
)

// Client owns monitored endpoints. Email is the contact target for every
// notification about its endpoints.
type Client struct {
	ID        ClientID  `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Endpoint is a monitored URL. The status fields are a cache of the most
// recent observation; LastDowntimeAt only moves on an up -> down transition.
type Endpoint struct {
	ID             EndpointID `json:"id"`
	ClientID       ClientID   `json:"client_id"`
	URL            string     `json:"url"`
	Name           string     `json:"name,omitempty"`
	Active         bool       `json:"is_active"`
	IsUp           bool       `json:"is_up"`
	LastCheckedAt  *time.Time `json:"last_checked_at"`
	LastDowntimeAt *time.Time `json:"last_downtime_at"`
	ResponseTimeMS *int64     `json:"response_time_ms"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (e Endpoint) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.URL
}

// CheckRecord is an immutable observation of one probe.
type CheckRecord struct {
	ID             CheckID    `json:"id"`
	EndpointID     EndpointID `json:"website_id"`
	IsUp           bool       `json:"is_up"`
	StatusCode     *int       `json:"status_code"`   // nil when no HTTP exchange completed
	ErrorMessage   *string    `json:"error_message"` // set only on transport failure
	ResponseTimeMS *int64     `json:"response_time_ms"`
	CheckedAt      time.Time  `json:"checked_at"`
}
