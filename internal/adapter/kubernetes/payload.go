package kubernetes

import (
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fraser-isbester/cdfwd/pkg/cdevents"
)

type CustomData struct {
	Kubernetes Details `json:"kubernetes"`
}

type Details struct {
	Cluster        string            `json:"cluster"`
	Namespace      string            `json:"namespace"`
	Name           string            `json:"name"`
	UID            string            `json:"uid"`
	Labels         map[string]string `json:"labels,omitempty"`
	Active         int32             `json:"active"`
	Succeeded      int32             `json:"succeeded"`
	Failed         int32             `json:"failed"`
	StartTime      string            `json:"startTime,omitempty"`
	CompletionTime string            `json:"completionTime,omitempty"`
	Conditions     []Condition       `json:"conditions,omitempty"`
}

type Condition struct {
	Type               string `json:"type"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	Message            string `json:"message,omitempty"`
	LastTransitionTime string `json:"lastTransitionTime,omitempty"`
}

func (a *Adapter) details(job *batchv1.Job) Details {
	d := Details{
		Cluster:        a.cluster,
		Namespace:      job.Namespace,
		Name:           job.Name,
		UID:            string(job.UID),
		Labels:         job.Labels,
		Active:         job.Status.Active,
		Succeeded:      job.Status.Succeeded,
		Failed:         job.Status.Failed,
		StartTime:      formatTime(job.Status.StartTime),
		CompletionTime: formatTime(job.Status.CompletionTime),
	}
	for _, c := range job.Status.Conditions {
		d.Conditions = append(d.Conditions, Condition{
			Type:               string(c.Type),
			Status:             string(c.Status),
			Reason:             c.Reason,
			Message:            c.Message,
			LastTransitionTime: formatTime(&c.LastTransitionTime),
		})
	}
	return d
}

func formatTime(t *metav1.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return cdevents.FormatTimestamp(t.Time)
}
