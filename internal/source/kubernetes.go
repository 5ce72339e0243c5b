package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"

	k8sadapter "github.com/fraser-isbester/cdfwd/internal/adapter/kubernetes"
	"github.com/fraser-isbester/cdfwd/internal/config"
	"github.com/fraser-isbester/cdfwd/internal/logger"
)

const (
	defaultResync = 10 * time.Minute
	// Jobs that last changed longer ago than this are skipped when the
	// informer first lists them.
	defaultMaxAge = time.Hour
)

// NewKubeClient prefers in-cluster credentials and falls back to kubeconfig.
func NewKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			kubeconfig = os.Getenv("KUBECONFIG")
		}
		if kubeconfig == "" {
			kubeconfig = os.ExpandEnv("$HOME/.kube/config")
		}
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

// JobSource watches batch/v1 Jobs and ingests one event per lifecycle phase.
type JobSource struct {
	client    kubernetes.Interface
	ingester  Ingester
	namespace string
	resync    time.Duration
	maxAge    time.Duration
	tracker   *PhaseTracker
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Source = (*JobSource)(nil)

func NewJobSource(client kubernetes.Interface, ingester Ingester, cfg config.KubernetesConfig) *JobSource {
	resync := cfg.Resync
	if resync <= 0 {
		resync = defaultResync
	}
	return &JobSource{
		client:    client,
		ingester:  ingester,
		namespace: cfg.Namespace,
		resync:    resync,
		maxAge:    defaultMaxAge,
		tracker:   NewPhaseTracker(),
		log:       logger.GetLogger("source").With().Str("source", "kubernetes").Logger(),
		now:       time.Now,
	}
}

func (k *JobSource) Name() string {
	return "kubernetes"
}

func (k *JobSource) Start(ctx context.Context) error {
	k.ctx, k.cancel = context.WithCancel(ctx)

	var opts []informers.SharedInformerOption
	if k.namespace != "" {
		opts = append(opts, informers.WithNamespace(k.namespace))
	}
	factory := informers.NewSharedInformerFactoryWithOptions(k.client, k.resync, opts...)
	informer := factory.Batch().V1().Jobs().Informer()

	_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if job, ok := obj.(*batchv1.Job); ok && k.recent(job) {
				k.handleJob(job)
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if job, ok := newObj.(*batchv1.Job); ok {
				k.handleJob(job)
			}
		},
		DeleteFunc: func(obj interface{}) {
			if tomb, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tomb.Obj
			}
			if job, ok := obj.(*batchv1.Job); ok {
				k.tracker.Forget(string(job.UID))
			}
		},
	})
	if err != nil {
		k.cancel()
		return fmt.Errorf("failed to register job handler: %w", err)
	}

	go informer.Run(k.ctx.Done())

	if !cache.WaitForCacheSync(k.ctx.Done(), informer.HasSynced) {
		k.cancel()
		return fmt.Errorf("failed to sync cache")
	}

	k.log.Info().Str("namespace", k.namespace).Msg("started kubernetes job watcher")
	return nil
}

// recent reports whether the job changed within maxAge.
func (k *JobSource) recent(job *batchv1.Job) bool {
	last := job.CreationTimestamp.Time
	if job.Status.StartTime != nil && job.Status.StartTime.After(last) {
		last = job.Status.StartTime.Time
	}
	if job.Status.CompletionTime != nil && job.Status.CompletionTime.After(last) {
		last = job.Status.CompletionTime.Time
	}
	for _, c := range job.Status.Conditions {
		if c.LastTransitionTime.After(last) {
			last = c.LastTransitionTime.Time
		}
	}
	return last.IsZero() || k.now().Sub(last) < k.maxAge
}

func (k *JobSource) handleJob(job *batchv1.Job) {
	key := string(job.UID)
	phase := k8sadapter.EventTypeFor(job)
	if !k.tracker.Advance(key, phase) {
		return
	}

	log := k.log.With().
		Str("namespace", job.Namespace).
		Str("job", job.Name).
		Str("event_type", phase).
		Logger()

	payload, err := marshalJob(job)
	if err != nil {
		k.tracker.Forget(key)
		log.Error().Err(err).Msg("failed to marshal job")
		return
	}

	res, err := k.ingester.Ingest(k.ctx, k8sadapter.Name, phase, payload)
	if err != nil {
		k.tracker.Forget(key)
		log.Warn().Err(err).Msg("failed to ingest job event")
		return
	}
	if res.Event != nil {
		log.Debug().Str("cdevent_id", res.Event.Context.ID).Msg("ingested job event")
	}
}

// marshalJob restores the type metadata informers strip from cached objects.
func marshalJob(job *batchv1.Job) ([]byte, error) {
	job = job.DeepCopy()
	job.APIVersion = batchv1.SchemeGroupVersion.String()
	job.Kind = "Job"
	return json.Marshal(job)
}

func (k *JobSource) Stop() error {
	if k.cancel != nil {
		k.cancel()
	}
	return nil
}
