package jira

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a Jira identifier. Cloud sends ids as strings, some server versions
// as numbers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("jira id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Time accepts epoch milliseconds or one of the date-time layouts Jira uses.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return fmt.Errorf("jira time: unrecognized layout %q", s)
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("jira time: %w", err)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

// ISO renders the time like the rest of the event, empty when unset.
func (t Time) ISO() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type User struct {
	Self         string `json:"self,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Active       bool   `json:"active,omitempty"`
	TimeZone     string `json:"timeZone,omitempty"`
}

type StatusCategory struct {
	ID   int    `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Status struct {
	ID             ID             `json:"id"`
	Name           string         `json:"name"`
	StatusCategory StatusCategory `json:"statusCategory"`
}

type IssueType struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask"`
}

type Project struct {
	ID   ID     `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Priority struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type Fields struct {
	Summary     string    `json:"summary"`
	Description *string   `json:"description"`
	Status      Status    `json:"status"`
	IssueType   IssueType `json:"issuetype"`
	Project     Project   `json:"project"`
	Priority    *Priority `json:"priority"`
	Assignee    *User     `json:"assignee"`
	Reporter    *User     `json:"reporter"`
	Creator     *User     `json:"creator"`
	Created     Time      `json:"created"`
	Updated     Time      `json:"updated"`
	DueDate     *string   `json:"duedate"`
	Labels      []string  `json:"labels"`
}

type Issue struct {
	ID     ID     `json:"id"`
	Self   string `json:"self"`
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// ChangeItem is one field transition of an update.
type ChangeItem struct {
	Field      string  `json:"field"`
	FieldType  string  `json:"fieldtype,omitempty"`
	FieldID    string  `json:"fieldId,omitempty"`
	From       *string `json:"from"`
	FromString *string `json:"fromString"`
	To         *string `json:"to"`
	ToString   *string `json:"toString"`
}

type Changelog struct {
	ID    ID           `json:"id"`
	Items []ChangeItem `json:"items"`
}

// StatusChanges returns the status transitions in changelog order.
func (c *Changelog) StatusChanges() []ChangeItem {
	if c == nil {
		return nil
	}
	var changes []ChangeItem
	for _, item := range c.Items {
		if item.Field == "status" {
			changes = append(changes, item)
		}
	}
	return changes
}

type Visibility struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Comment struct {
	Self       string      `json:"self,omitempty"`
	ID         ID          `json:"id"`
	Author     *User       `json:"author,omitempty"`
	Body       string      `json:"body,omitempty"`
	Created    Time        `json:"-"`
	Updated    Time        `json:"-"`
	Visibility *Visibility `json:"visibility,omitempty"`
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	type plain Comment
	aux := struct {
		*plain
		Created Time `json:"created"`
		Updated Time `json:"updated"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Created, c.Updated = aux.Created, aux.Updated
	return nil
}

func (c Comment) MarshalJSON() ([]byte, error) {
	type plain Comment
	return json.Marshal(struct {
		plain
		Created string `json:"created,omitempty"`
		Updated string `json:"updated,omitempty"`
	}{plain(c), c.Created.ISO(), c.Updated.ISO()})
}

type Worklog struct {
	Self             string      `json:"self,omitempty"`
	ID               ID          `json:"id"`
	Author           *User       `json:"author,omitempty"`
	Comment          *string     `json:"comment,omitempty"`
	Created          Time        `json:"-"`
	Updated          Time        `json:"-"`
	Started          Time        `json:"-"`
	TimeSpent        string      `json:"timeSpent,omitempty"`
	TimeSpentSeconds int64       `json:"timeSpentSeconds,omitempty"`
	Visibility       *Visibility `json:"visibility,omitempty"`
}

func (w *Worklog) UnmarshalJSON(data []byte) error {
	type plain Worklog
	aux := struct {
		*plain
		Created Time `json:"created"`
		Updated Time `json:"updated"`
		Started Time `json:"started"`
	}{plain: (*plain)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w.Created, w.Updated, w.Started = aux.Created, aux.Updated, aux.Started
	return nil
}

func (w Worklog) MarshalJSON() ([]byte, error) {
	type plain Worklog
	return json.Marshal(struct {
		plain
		Created string `json:"created,omitempty"`
		Updated string `json:"updated,omitempty"`
		Started string `json:"started,omitempty"`
	}{plain(w), w.Created.ISO(), w.Updated.ISO(), w.Started.ISO()})
}

// Webhook is the envelope shared by every Jira delivery. Which of Issue,
// Comment, Worklog and Changelog are set depends on WebhookEvent.
type Webhook struct {
	Timestamp          *int64     `json:"timestamp"`
	WebhookEvent       string     `json:"webhookEvent"`
	IssueEventTypeName string     `json:"issue_event_type_name,omitempty"`
	User               *User      `json:"user"`
	Issue              *Issue     `json:"issue"`
	Comment            *Comment   `json:"comment"`
	Worklog            *Worklog   `json:"worklog"`
	Changelog          *Changelog `json:"changelog"`
}

// CustomData is attached to every event the adapter emits.
type CustomData struct {
	Jira Details `json:"jira"`
}

type Details struct {
	EventType    string        `json:"eventType"`
	EventContext string        `json:"eventContext"`
	Timestamp    string        `json:"timestamp"`
	User         *UserDetails  `json:"user,omitempty"`
	Issue        *IssueDetails `json:"issue,omitempty"`
	Comment      *Comment      `json:"comment,omitempty"`
	Worklog      *Worklog      `json:"worklog,omitempty"`
	Changelog    *Changelog    `json:"changelog,omitempty"`
}

type UserDetails struct {
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
}

type StatusDetails struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	CategoryKey string `json:"categoryKey,omitempty"`
}

type ProjectDetails struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}

type IssueTypeDetails struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Subtask bool   `json:"subtask"`
}

type PriorityDetails struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// IssueDetails is the issue summary carried in custom data. Assignee and
// priority stay present as null when unset.
type IssueDetails struct {
	Key         string           `json:"key"`
	ID          string           `json:"id"`
	Summary     string           `json:"summary"`
	Description *string          `json:"description,omitempty"`
	Status      StatusDetails    `json:"status"`
	Assignee    *UserDetails     `json:"assignee"`
	Reporter    *UserDetails     `json:"reporter,omitempty"`
	Creator     *UserDetails     `json:"creator,omitempty"`
	Project     ProjectDetails   `json:"project"`
	IssueType   IssueTypeDetails `json:"issueType"`
	Priority    *PriorityDetails `json:"priority"`
	Created     string           `json:"created,omitempty"`
	Updated     string           `json:"updated,omitempty"`
	DueDate     *string          `json:"duedate,omitempty"`
}

func userDetails(u *User) *UserDetails {
	if u == nil {
		return nil
	}
	return &UserDetails{DisplayName: u.DisplayName, EmailAddress: u.EmailAddress, AccountID: u.AccountID}
}

func issueDetails(issue *Issue) *IssueDetails {
	if issue == nil {
		return nil
	}
	f := issue.Fields
	d := &IssueDetails{
		Key:         issue.Key,
		ID:          issue.ID.String(),
		Summary:     f.Summary,
		Description: f.Description,
		Status: StatusDetails{
			Name:        f.Status.Name,
			Category:    f.Status.StatusCategory.Name,
			CategoryKey: f.Status.StatusCategory.Key,
		},
		Assignee:  userDetails(f.Assignee),
		Reporter:  userDetails(f.Reporter),
		Creator:   userDetails(f.Creator),
		Project:   ProjectDetails{Key: f.Project.Key, Name: f.Project.Name, ID: f.Project.ID.String()},
		IssueType: IssueTypeDetails{Name: f.IssueType.Name, ID: f.IssueType.ID.String(), Subtask: f.IssueType.Subtask},
		Created:   f.Created.ISO(),
		Updated:   f.Updated.ISO(),
		DueDate:   f.DueDate,
	}
	if f.Priority != nil {
		d.Priority = &PriorityDetails{Name: f.Priority.Name, ID: f.Priority.ID.String()}
	}
	return d
}
