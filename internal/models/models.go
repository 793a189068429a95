package models

// SystemUserID is the forum's built-in system account. Any user id <= 0 is
// treated as a non-human account.
const SystemUserID int64 = -1

// Thread is a forum topic. CategoryID 0 means the topic is uncategorized.
type Thread struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"categoryId"`
	Title      string `json:"title"`
	UserID     int64  `json:"userId"` // author of the first post
	URL        string `json:"url,omitempty"`
}

// Message is a forum post inside a Thread.
type Message struct {
	ID         int64  `json:"id"`
	ThreadID   int64  `json:"threadId"`
	UserID     int64  `json:"userId"`
	Raw        string `json:"raw"`
	PostNumber int    `json:"postNumber"`
	URL        string `json:"url,omitempty"`
}

// User is a forum account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// IsSystem reports whether the user is a bot or the system account.
func (u *User) IsSystem() bool {
	return u == nil || u.ID <= 0
}

// DisplayName returns the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// RemoteTicket represents a Zendesk ticket.
type RemoteTicket struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	SubmitterID    int64  `json:"submitter_id"`
	RequesterID    int64  `json:"requester_id"`
	Priority       string `json:"priority"`
	ExternalID     string `json:"external_id,omitempty"`
	FirstCommentID int64  `json:"-"` // filled from the creation audit when Zendesk returns one
}

// RemoteComment represents a Zendesk ticket comment.
type RemoteComment struct {
	ID          int64        `json:"id"`
	Body        string       `json:"body"`
	HTMLBody    string       `json:"html_body,omitempty"`
	AuthorID    int64        `json:"author_id"`
	Public      bool         `json:"public"`
	TicketID    int64        `json:"-"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file attached to a RemoteComment.
type Attachment struct {
	ID               int64        `json:"id"`
	ContentType      string       `json:"content_type"`
	ContentURL       string       `json:"content_url"`
	MappedContentURL string       `json:"mapped_content_url,omitempty"`
	FileName         string       `json:"file_name"`
	Size             int64        `json:"size,omitempty"`
	Thumbnails       []Attachment `json:"thumbnails,omitempty"`
}

// PublicURL prefers the host-mapped URL when Zendesk provides one.
func (a Attachment) PublicURL() string {
	if a.MappedContentURL != "" {
		return a.MappedContentURL
	}
	return a.ContentURL
}

// RemoteUser is a Zendesk user standing in for a forum author.
type RemoteUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Role     string `json:"role"`
}

// NewTicket carries the fields used to open a RemoteTicket.
type NewTicket struct {
	Subject      string
	Body         string
	SubmitterID  int64
	Priority     string
	Tags         []string
	ExternalID   string
	CustomFields map[string]string
}

// NewComment carries the fields used to append a RemoteComment.
type NewComment struct {
	TicketID int64
	Body     string
	AuthorID int64
	Public   bool
}

// NewUser carries the fields used to create a RemoteUser.
type NewUser struct {
	Name     string
	Email    string
	Verified bool
	Role     string
}

// PushTask is the payload of an outbound sync job. Exactly one of
// MessageID or ThreadID is set; the attempt number travels on the job.
type PushTask struct {
	MessageID int64 `json:"post_id,omitempty"`
	ThreadID  int64 `json:"topic_id,omitempty"`
}
