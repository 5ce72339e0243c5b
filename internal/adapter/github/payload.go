package github

// Owner is the account owning a repository.
type Owner struct {
	Login string `json:"login"`
	ID    int64  `json:"id,omitempty"`
}

type Repository struct {
	ID       int64  `json:"id"`
	NodeID   string `json:"node_id,omitempty"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private,omitempty"`
	HTMLURL  string `json:"html_url,omitempty"`
	Owner    Owner  `json:"owner"`
}

type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type Workflow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

type Step struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Conclusion  *string `json:"conclusion,omitempty"`
	Number      int     `json:"number"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// WorkflowJob is the workflow_job object of a delivery. Pointer fields are
// null until the job reaches the state that populates them.
type WorkflowJob struct {
	ID              int64    `json:"id"`
	RunID           int64    `json:"run_id"`
	RunURL          string   `json:"run_url"`
	RunAttempt      int      `json:"run_attempt"`
	NodeID          string   `json:"node_id"`
	HeadSHA         string   `json:"head_sha"`
	HeadBranch      *string  `json:"head_branch"`
	WorkflowName    *string  `json:"workflow_name"`
	URL             string   `json:"url"`
	HTMLURL         string   `json:"html_url"`
	Status          string   `json:"status"`
	Conclusion      *string  `json:"conclusion"`
	CreatedAt       *string  `json:"created_at"`
	StartedAt       *string  `json:"started_at"`
	CompletedAt     *string  `json:"completed_at"`
	Name            string   `json:"name"`
	Steps           []Step   `json:"steps"`
	Labels          []string `json:"labels"`
	RunnerID        *int64   `json:"runner_id"`
	RunnerName      *string  `json:"runner_name"`
	RunnerGroupID   *int64   `json:"runner_group_id"`
	RunnerGroupName *string  `json:"runner_group_name"`
}

type WorkflowJobEvent struct {
	Action      string      `json:"action"`
	WorkflowJob WorkflowJob `json:"workflow_job"`
	Workflow    *Workflow   `json:"workflow"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

type Hook struct {
	Type   string   `json:"type"`
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
}

// PingEvent is sent when a webhook is created. Organization hooks carry no
// repository.
type PingEvent struct {
	Zen        string      `json:"zen"`
	HookID     int64       `json:"hook_id"`
	Hook       Hook        `json:"hook"`
	Repository *Repository `json:"repository"`
	Sender     *User       `json:"sender"`
}

// PingDetails is the ping section of the acknowledgement.
type PingDetails struct {
	Zen        string `json:"zen"`
	HookID     int64  `json:"hook_id"`
	Repository string `json:"repository,omitempty"`
	Sender     string `json:"sender,omitempty"`
}

// CustomData is attached to every CDEvent under customData.
type CustomData struct {
	GitHub Details `json:"github"`
}

type Details struct {
	Action      string          `json:"action"`
	WorkflowJob JobDetails      `json:"workflow_job"`
	Workflow    *Workflow       `json:"workflow,omitempty"`
	Repository  RepositoryIdent `json:"repository"`
	Sender      User            `json:"sender"`
}

type JobDetails struct {
	ID           int64    `json:"id"`
	RunID        int64    `json:"run_id"`
	Name         string   `json:"name"`
	Labels       []string `json:"labels"`
	Status       string   `json:"status"`
	WorkflowName *string  `json:"workflow_name,omitempty"`
	HeadBranch   *string  `json:"head_branch,omitempty"`
	StartedAt    *string  `json:"started_at,omitempty"`
	RunnerID     *int64   `json:"runner_id,omitempty"`
	RunnerName   *string  `json:"runner_name,omitempty"`
	Conclusion   *string  `json:"conclusion,omitempty"`
	CompletedAt  *string  `json:"completed_at,omitempty"`
	Steps        []Step   `json:"steps,omitempty"`
}

type RepositoryIdent struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    string `json:"owner"`
}
