package domain

import "time"

// JobStatus enumerates the lifecycle states of a single template generation.
type JobStatus string

const (
	JobStatusIdle    JobStatus = "idle"
	JobStatusLoading JobStatus = "loading"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

// Job is one (template x logo) unit of work. ImageURL is only populated once
// the generated image passed the validity check.
type Job struct {
	TemplateID  string    `json:"template_id"`
	Status      JobStatus `json:"status"`
	ImageURL    string    `json:"image_url,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
}

// LoadingJob returns the placeholder state every job enters when a run starts.
func LoadingJob(templateID string) Job {
	return Job{TemplateID: templateID, Status: JobStatusLoading}
}

// LogoRef is the uploaded logo copied into a run so later uploads never
// mutate past runs.
type LogoRef struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Empty reports whether no logo bytes are present.
func (l LogoRef) Empty() bool {
	return len(l.Data) == 0
}

// Clone deep-copies the logo bytes.
func (l LogoRef) Clone() LogoRef {
	out := l
	out.Data = append([]byte(nil), l.Data...)
	return out
}

// GenerationRun is one full pass over the template catalog for one logo. It is
// both the live session and, once superseded, a history entry.
type GenerationRun struct {
	ID        string         `json:"id"`
	Logo      LogoRef        `json:"logo"`
	Results   map[string]Job `json:"results"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy whose Results map can be read without holding the
// owner's lock. Logo bytes are shared since they are never mutated.
func (r GenerationRun) Clone() GenerationRun {
	out := r
	out.Results = make(map[string]Job, len(r.Results))
	for k, v := range r.Results {
		out.Results[k] = v
	}
	return out
}

// NewRunResults builds a result map with exactly one loading entry per template.
func NewRunResults(templates []Template) map[string]Job {
	results := make(map[string]Job, len(templates))
	for _, t := range templates {
		results[t.ID] = LoadingJob(t.ID)
	}
	return results
}

// NormalizeResults forces results to contain exactly one entry per catalog
// template: unknown keys are dropped and missing ones default to idle.
func NormalizeResults(results map[string]Job, templates []Template) map[string]Job {
	out := make(map[string]Job, len(templates))
	for _, t := range templates {
		job, ok := results[t.ID]
		if !ok {
			job = Job{TemplateID: t.ID, Status: JobStatusIdle}
		}
		job.TemplateID = t.ID
		out[t.ID] = job
	}
	return out
}
