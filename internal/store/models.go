package store

const (
	TaskToDo       = "To Do"
	TaskInProgress = "In Progress"
	TaskReview     = "Review"
	TaskTesting    = "Testing"
	TaskCompleted  = "Completed"

	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"

	MeetingScheduled  = "Scheduled"
	MeetingInProgress = "In Progress"
	MeetingCompleted  = "Completed"
	MeetingCancelled  = "Cancelled"

	CommentPreMeeting  = "pre_meeting"
	CommentPostMeeting = "post_meeting"
	CommentAdminNote   = "admin_note"

	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

var (
	TaskStatuses    = []string{TaskToDo, TaskInProgress, TaskReview, TaskTesting, TaskCompleted}
	Priorities      = []string{PriorityHigh, PriorityMedium, PriorityLow}
	MeetingStatuses = []string{MeetingScheduled, MeetingInProgress, MeetingCompleted, MeetingCancelled}
)

type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Approved    bool   `json:"approved"`
	IsOnline    bool   `json:"isOnline"`
	LastSeen    string `json:"lastSeen,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type Comment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type SubTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedBy string `json:"createdBy,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Attachment points at an uploaded blob.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ObjectKey   string `json:"objectKey,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	UploadedBy  string `json:"uploadedBy,omitempty"`
	UploadedAt  string `json:"uploadedAt"`
}

type Project struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Priority    string       `json:"priority,omitempty"`
	StartDate   string       `json:"startDate,omitempty"`
	EndDate     string       `json:"endDate,omitempty"`
	AssignedTo  []string     `json:"assignedTo"`
	Progress    int          `json:"progress"`
	Comments    []Comment    `json:"comments"`
	SubTasks    []SubTask    `json:"subTasks"`
	Files       []Attachment `json:"files"`
	Images      []Attachment `json:"images"`
	CreatedBy   string       `json:"createdBy"`
	CreatedAt   string       `json:"createdAt"`
	UpdatedAt   string       `json:"updatedAt"`
}

type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	ProjectID   string   `json:"projectId,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	AssignedTo  []string `json:"assignedTo"`
	CreatedBy   string   `json:"createdBy"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type MeetingComment struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Meeting runs over [StartTime, EndTime). Date is the day key of StartTime in
// the configured location and is maintained by the repository.
type Meeting struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Date            string           `json:"date"`
	StartTime       string           `json:"startTime"`
	EndTime         string           `json:"endTime,omitempty"`
	Location        string           `json:"location,omitempty"`
	MeetingLink     string           `json:"meetingLink,omitempty"`
	Status          string           `json:"status"`
	AssignedTo      []string         `json:"assignedTo"`
	IsAssignedToAll bool             `json:"isAssignedToAll"`
	Comments        []MeetingComment `json:"comments"`
	CreatedBy       string           `json:"createdBy"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
}

type Report struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	ProjectID   string   `json:"projectId,omitempty"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	AssignedTo  []string `json:"assignedTo"`
	CreatedBy   string   `json:"createdBy"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type Notification struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	ActionType string         `json:"actionType"`
	Metadata   map[string]any `json:"metadata"`
	Read       bool           `json:"read"`
	CreatedAt  string         `json:"createdAt"`
	UpdatedAt  string         `json:"updatedAt"`
}

type Activity struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Action       string   `json:"action"`
	EntityType   string   `json:"entityType"`
	EntityID     string   `json:"entityId"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	UserID       string   `json:"userId"`
	UserName     string   `json:"userName"`
	RelatedUsers []string `json:"relatedUsers"`
	ReadBy       []string `json:"readBy"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

// IsReadBy reports whether uid has read the activity.
func (a Activity) IsReadBy(uid string) bool {
	for _, id := range a.ReadBy {
		if id == uid {
			return true
		}
	}
	return false
}
