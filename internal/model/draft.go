package model

import "time"

// Draft is an unsent message kept in the local store. Attachments are
// local file paths read when the draft is sent.
type Draft struct {
	ID          string    `json:"draft_id" db:"id"`
	To          []string  `json:"to" db:"-"`
	Cc          []string  `json:"cc,omitempty" db:"-"`
	Bcc         []string  `json:"bcc,omitempty" db:"-"`
	Subject     string    `json:"subject" db:"subject"`
	Body        string    `json:"body" db:"body"`
	HTMLBody    string    `json:"html_body,omitempty" db:"html_body"`
	Attachments []string  `json:"attachments,omitempty" db:"-"`
	InReplyTo   string    `json:"in_reply_to,omitempty" db:"in_reply_to"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ExportRecord is the history entry written for every export.
type ExportRecord struct {
	ID          string    `json:"export_id" db:"id"`
	Destination string    `json:"destination" db:"destination"`
	Folder      string    `json:"folder" db:"folder"`
	EmailCount  int       `json:"email_count" db:"email_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
