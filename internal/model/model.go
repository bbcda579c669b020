package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

type ExecutionStatus string

const (
	ExecutionScheduled  ExecutionStatus = "scheduled"
	ExecutionProcessing ExecutionStatus = "processing"
	ExecutionSent       ExecutionStatus = "sent"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionSkipped    ExecutionStatus = "skipped"
)

type JobStatus string

const (
	JobScheduled  JobStatus = "scheduled"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// StepCondition gates creation of the next execution against the prior
// step's outcome. Only "always" is evaluated; the rest are declared for
// the tracking side and never pass.
type StepCondition string

const (
	CondAlways  StepCondition = "always"
	CondNoReply StepCondition = "noReply"
	CondOpened  StepCondition = "opened"
	CondReplied StepCondition = "replied"
)

// Step is one stage of a campaign. Delay is relative to the previous
// step's send time (step 0: relative to campaign start). TemplateID, when
// set, overrides the inline fields at resolution time.
type Step struct {
	Name        string        `json:"name,omitempty"`
	Delay       time.Duration `json:"delay"`
	TemplateID  string        `json:"template_id,omitempty"`
	ServiceName string        `json:"service_name,omitempty"`
	Subject     string        `json:"subject,omitempty"`
	SenderName  string        `json:"sender_name,omitempty"`
	SenderEmail string        `json:"sender_email,omitempty"`
	Body        string        `json:"body,omitempty"`
	Condition   StepCondition `json:"condition,omitempty"`
}

// Recipient is one parsed row: a non-empty trimmed email plus whatever
// extra columns the source carried, used for personalization.
type Recipient struct {
	Email  string            `json:"email"`
	Fields map[string]string `json:"fields,omitempty"`
}

type Campaign struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []Step         `json:"steps"`
	Recipients  []Recipient    `json:"recipients,omitempty"` // snapshotted at start
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// ContentSnapshot is the resolved send content captured when an execution
// or job is created. Template edits after that point do not affect it.
type ContentSnapshot struct {
	ServiceName string `json:"service_name,omitempty"`
	Subject     string `json:"subject"`
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`
	HTMLBody    string `json:"html_body"`
}

// Execution is one (campaign, step, recipient) send unit.
type Execution struct {
	ID           string          `json:"id"`
	CampaignID   string          `json:"campaign_id"`
	StepIndex    int             `json:"step_index"`
	ContactEmail string          `json:"contact_email"`
	Content      ContentSnapshot `json:"content"`
	ScheduleAt   time.Time       `json:"schedule_at"`
	Status       ExecutionStatus `json:"status"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BulkJob is a flat, single-step, many-recipient send with no chaining.
type BulkJob struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Content     ContentSnapshot `json:"content"`
	AccountIDs  []string        `json:"account_ids,omitempty"`
	Total       int             `json:"total"`
	SentCount   int             `json:"sent_count"`
	FailedCount int             `json:"failed_count"`
	Bookmarked  bool            `json:"bookmarked"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ScheduledJob is a bulk job whose dispatch is deferred to ScheduleAt.
type ScheduledJob struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	TemplateID  string          `json:"template_id,omitempty"`
	Content     ContentSnapshot `json:"content"`
	AccountIDs  []string        `json:"account_ids,omitempty"`
	Recipients  []Recipient     `json:"recipients"`
	ScheduleAt  time.Time       `json:"schedule_at"`
	Status      JobStatus       `json:"status"`
	Total       int             `json:"total"`
	SentCount   int             `json:"sent_count"`
	FailedCount int             `json:"failed_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SendRecord is the per-recipient history row written by the bulk worker;
// its ID keys the tracking pixel.
type SendRecord struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"` // sent | failed
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Template struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	ServiceName string `json:"service_name,omitempty"`
	Subject     string `json:"subject"`
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`
	HTMLBody    string `json:"html_body"`
}

type SMTPAccount struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	AuthUser string `json:"auth_user"`
	AuthPass string `json:"-"`
}
