package cdevents

// Option sets an optional field on a constructed event. Options that do not
// apply to an event type are ignored, so queued and started events never carry
// an outcome.
type Option func(*options)

type options struct {
	pipelineName  string
	taskName      string
	url           string
	outcome       Outcome
	errors        string
	pipelineRun   *SubjectReference
	subjectSource string
	customData    any
	contentType   string
	chainID       string
	links         []Link
	schemaURI     string
}

func WithPipelineName(name string) Option {
	return func(o *options) { o.pipelineName = name }
}

func WithTaskName(name string) Option {
	return func(o *options) { o.taskName = name }
}

func WithURL(url string) Option {
	return func(o *options) { o.url = url }
}

func WithOutcome(outcome Outcome) Option {
	return func(o *options) { o.outcome = outcome }
}

func WithErrors(errors string) Option {
	return func(o *options) { o.errors = errors }
}

// WithPipelineRun links a task run to the pipeline run that owns it.
func WithPipelineRun(ref SubjectReference) Option {
	return func(o *options) { o.pipelineRun = &ref }
}

func WithSubjectSource(source string) Option {
	return func(o *options) { o.subjectSource = source }
}

// WithCustomData attaches provider specific data. The content type defaults
// to application/json.
func WithCustomData(data any) Option {
	return func(o *options) { o.customData = data }
}

func WithCustomDataContentType(contentType string) Option {
	return func(o *options) { o.contentType = contentType }
}

func WithChainID(chainID string) Option {
	return func(o *options) { o.chainID = chainID }
}

func WithLinks(links ...Link) Option {
	return func(o *options) { o.links = append(o.links, links...) }
}

func WithSchemaURI(uri string) Option {
	return func(o *options) { o.schemaURI = uri }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newEvent(t EventType, contextID, source, timestamp, subjectID string, o options) Event {
	e := Event{
		Context: Context{
			Version:   SpecVersion,
			ID:        contextID,
			Source:    source,
			Type:      t,
			Timestamp: timestamp,
			SchemaURI: o.schemaURI,
			ChainID:   o.chainID,
			Links:     o.links,
		},
		Subject: Subject{
			ID:     subjectID,
			Source: o.subjectSource,
			Type:   t.SubjectType(),
		},
	}
	if o.customData != nil {
		e.CustomData = o.customData
		e.CustomDataContentType = o.contentType
		if e.CustomDataContentType == "" {
			e.CustomDataContentType = DefaultCustomDataContentType
		}
	}
	return e
}

func NewPipelineRunQueuedEvent(contextID, source, timestamp, subjectID string, opts ...Option) Event {
	o := collect(opts)
	e := newEvent(PipelineRunQueuedEventType, contextID, source, timestamp, subjectID, o)
	e.Subject.Content = Content{PipelineName: o.pipelineName, URL: o.url}
	return e
}

func NewPipelineRunStartedEvent(contextID, source, timestamp, subjectID string, opts ...Option) Event {
	o := collect(opts)
	e := newEvent(PipelineRunStartedEventType, contextID, source, timestamp, subjectID, o)
	e.Subject.Content = Content{PipelineName: o.pipelineName, URL: o.url}
	return e
}

func NewPipelineRunFinishedEvent(contextID, source, timestamp, subjectID string, opts ...Option) Event {
	o := collect(opts)
	e := newEvent(PipelineRunFinishedEventType, contextID, source, timestamp, subjectID, o)
	e.Subject.Content = Content{
		PipelineName: o.pipelineName,
		URL:          o.url,
		Outcome:      o.outcome,
		Errors:       o.errors,
	}
	return e
}

func NewTaskRunStartedEvent(contextID, source, timestamp, subjectID string, opts ...Option) Event {
	o := collect(opts)
	e := newEvent(TaskRunStartedEventType, contextID, source, timestamp, subjectID, o)
	e.Subject.Content = Content{TaskName: o.taskName, PipelineRun: o.pipelineRun, URL: o.url}
	return e
}

func NewTaskRunFinishedEvent(contextID, source, timestamp, subjectID string, opts ...Option) Event {
	o := collect(opts)
	e := newEvent(TaskRunFinishedEventType, contextID, source, timestamp, subjectID, o)
	e.Subject.Content = Content{
		TaskName:    o.taskName,
		PipelineRun: o.pipelineRun,
		URL:         o.url,
		Outcome:     o.outcome,
		Errors:      o.errors,
	}
	return e
}

// New builds an event of type t. It returns false for unknown types.
func New(t EventType, contextID, source, timestamp, subjectID string, opts ...Option) (Event, bool) {
	switch t {
	case PipelineRunQueuedEventType:
		return NewPipelineRunQueuedEvent(contextID, source, timestamp, subjectID, opts...), true
	case PipelineRunStartedEventType:
		return NewPipelineRunStartedEvent(contextID, source, timestamp, subjectID, opts...), true
	case PipelineRunFinishedEventType:
		return NewPipelineRunFinishedEvent(contextID, source, timestamp, subjectID, opts...), true
	case TaskRunStartedEventType:
		return NewTaskRunStartedEvent(contextID, source, timestamp, subjectID, opts...), true
	case TaskRunFinishedEventType:
		return NewTaskRunFinishedEvent(contextID, source, timestamp, subjectID, opts...), true
	}
	return Event{}, false
}
