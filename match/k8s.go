package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rl-arena/rl-arena-executor/config"
)

const orchestratorContainer = "orchestrator"

// K8sRunner executes each match as a Kubernetes Job: agent images unpack
// their code through init containers, the orchestrator container plays the
// match and prints the Result as its last stdout line, and the runner
// parses it back out of the pod log. The client is created lazily on first
// use so the executor can come up before the API server is reachable.
type K8sRunner struct {
	limits    *config.Limits
	client    kubernetes.Interface
	pollEvery time.Duration

	// podLogs is swappable for tests; nil means fetch through the client.
	podLogs func(ctx context.Context, namespace, podName string) ([]byte, error)
}

func NewK8sRunner(limits *config.Limits) *K8sRunner {
	return &K8sRunner{limits: limits, pollEvery: limits.PollInterval()}
}

// newKubeClient returns a typed clientset using in-cluster config or local kubeconfig.
func newKubeClient() (kubernetes.Interface, error) {
	// Try in-cluster config first
	if cfg, err := rest.InClusterConfig(); err == nil {
		return kubernetes.NewForConfig(cfg)
	}
	// Fallback to local kubeconfig
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	cfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// Run executes the match as a Job. The returned Result keeps the
// orchestrator's own execution time when one was parsed; failure results
// are stamped with the wall time observed from this side.
func (r *K8sRunner) Run(ctx context.Context, spec *Spec) *Result {
	start := time.Now()
	res := r.run(ctx, spec)
	if res.ExecutionTime == 0 {
		res.ExecutionTime = time.Since(start).Seconds()
	}
	return res
}

func (r *K8sRunner) run(ctx context.Context, spec *Spec) *Result {
	res := &Result{MatchID: spec.MatchID, Status: StatusError}

	if r.client == nil {
		client, err := newKubeClient()
		if err != nil {
			return r.fail(res, StatusError, fmt.Sprintf("kubernetes client unavailable: %v", err))
		}
		r.client = client
	}

	timeout := r.limits.MatchTimeout()
	if spec.TimeoutSec > 0 {
		timeout = time.Duration(spec.TimeoutSec) * time.Second
	}
	ns := r.limits.K8s.Namespace

	payload, err := json.Marshal(spec)
	if err != nil {
		return r.fail(res, StatusError, fmt.Sprintf("failed to encode match spec: %v", err))
	}

	defer r.cleanup(spec.MatchID)

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      configMapName(spec.MatchID),
			Namespace: ns,
			Labels:    matchLabels(spec),
		},
		Data: map[string]string{"match-config.json": string(payload)},
	}
	if _, err := r.client.CoreV1().ConfigMaps(ns).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		return r.fail(res, StatusError, fmt.Sprintf("failed to create match config: %v", err))
	}

	job := r.buildJob(spec, timeout)
	if _, err := r.client.BatchV1().Jobs(ns).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return r.fail(res, StatusError, fmt.Sprintf("failed to create match job: %v", err))
	}
	log.Info().Str("matchId", spec.MatchID).Str("namespace", ns).Str("job", job.Name).Msg("k8s runner: match job created")

	outcome := r.awaitJob(ctx, spec, timeout)
	if outcome != nil {
		return outcome
	}

	parsed, err := r.collectResult(ctx, spec)
	if err != nil {
		return r.fail(res, StatusError, err.Error())
	}
	return parsed
}

// awaitJob polls until the job reaches a terminal state. It returns nil on
// success, meaning the caller should go fetch the result from the pod log.
func (r *K8sRunner) awaitJob(ctx context.Context, spec *Spec, timeout time.Duration) *Result {
	res := &Result{MatchID: spec.MatchID, Status: StatusError}
	ns := r.limits.K8s.Namespace
	name := jobName(spec.MatchID)
	deadline := time.Now().Add(timeout + 60*time.Second)

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.fail(res, StatusCancelled, "match cancelled while waiting for job completion")
		case <-ticker.C:
		}

		job, err := r.client.BatchV1().Jobs(ns).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			log.Warn().Err(err).Str("matchId", spec.MatchID).Msg("k8s runner: job status check failed")
		} else {
			if job.Status.Succeeded > 0 {
				return nil
			}
			if job.Status.Failed > 0 {
				for _, c := range job.Status.Conditions {
					if c.Type == batchv1.JobFailed && c.Reason == "DeadlineExceeded" {
						return r.fail(res, StatusTimeout, fmt.Sprintf("match job exceeded its deadline: %s", c.Message))
					}
				}
				return r.fail(res, StatusError, "match job failed")
			}
		}

		if time.Now().After(deadline) {
			return r.fail(res, StatusTimeout, fmt.Sprintf("match job did not finish within %s", timeout+60*time.Second))
		}
	}
}

// collectResult finds the match pod and parses the orchestrator's Result
// line out of its log, scanning from the end.
func (r *K8sRunner) collectResult(ctx context.Context, spec *Spec) (*Result, error) {
	ns := r.limits.K8s.Namespace
	pods, err := r.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
		LabelSelector: "match-id=" + spec.MatchID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list match pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("no pod found for match %s", spec.MatchID)
	}

	fetch := r.podLogs
	if fetch == nil {
		fetch = r.fetchPodLogs
	}
	raw, err := fetch(ctx, ns, pods.Items[0].Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read orchestrator log: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"match_id"`) {
			continue
		}
		var parsed Result
		if err := json.Unmarshal([]byte(line), &parsed); err == nil {
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("orchestrator log for match %s contains no result", spec.MatchID)
}

func (r *K8sRunner) fetchPodLogs(ctx context.Context, namespace, podName string) ([]byte, error) {
	req := r.client.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{Container: orchestratorContainer})
	return req.DoRaw(ctx)
}

// cleanup removes the match job and config regardless of outcome. It runs
// on a fresh context so a cancelled match still gets its resources back.
func (r *K8sRunner) cleanup(matchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ns := r.limits.K8s.Namespace
	policy := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &policy}

	if err := r.client.BatchV1().Jobs(ns).Delete(ctx, jobName(matchID), opts); err != nil && !apierrors.IsNotFound(err) {
		log.Warn().Err(err).Str("matchId", matchID).Msg("k8s runner: job cleanup failed")
	}
	if err := r.client.CoreV1().ConfigMaps(ns).Delete(ctx, configMapName(matchID), opts); err != nil && !apierrors.IsNotFound(err) {
		log.Warn().Err(err).Str("matchId", matchID).Msg("k8s runner: config cleanup failed")
	}
}

func (r *K8sRunner) buildJob(spec *Spec, timeout time.Duration) *batchv1.Job {
	backoffLimit := int32(0)
	ttl := int32(3600)
	activeDeadline := int64(timeout/time.Second) + 120
	labels := matchLabels(spec)

	inits := make([]corev1.Container, 0, len(spec.Agents))
	for i, a := range spec.Agents {
		sub := fmt.Sprintf("agent-%d", i)
		inits = append(inits, corev1.Container{
			Name:    fmt.Sprintf("agent-code-%d", i),
			Image:   a.CodeLocation,
			Command: []string{"sh", "-c", fmt.Sprintf("cp -r /app/* /agent-code/%s/", sub)},
			VolumeMounts: []corev1.VolumeMount{{
				Name:      "agent-code",
				MountPath: "/agent-code/" + sub,
				SubPath:   sub,
			}},
			Resources: corev1.ResourceRequirements{
				Limits: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("500m"),
					corev1.ResourceMemory: resource.MustParse("256Mi"),
				},
				Requests: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("100m"),
					corev1.ResourceMemory: resource.MustParse("128Mi"),
				},
			},
		})
	}

	orchestrator := corev1.Container{
		Name:  orchestratorContainer,
		Image: r.limits.K8s.OrchestratorImage,
		Env: []corev1.EnvVar{
			{Name: "MATCH_ID", Value: spec.MatchID},
			{Name: "ENVIRONMENT", Value: spec.Environment},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "match-config", MountPath: "/config", ReadOnly: true},
			{Name: "shared-replay", MountPath: "/replays"},
			{Name: "agent-code", MountPath: "/agent-code"},
		},
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("2"),
				corev1.ResourceMemory: resource.MustParse("2Gi"),
			},
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("1"),
				corev1.ResourceMemory: resource.MustParse("1Gi"),
			},
		},
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(spec.MatchID),
			Namespace: r.limits.K8s.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   &activeDeadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: r.limits.K8s.ServiceAccount,
					InitContainers:     inits,
					Containers:         []corev1.Container{orchestrator},
					Volumes: []corev1.Volume{
						{
							Name: "match-config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: configMapName(spec.MatchID)},
								},
							},
						},
						{
							Name:         "shared-replay",
							VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
						},
						{
							Name:         "agent-code",
							VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
						},
					},
				},
			},
		},
	}
}

func (r *K8sRunner) fail(res *Result, status Status, msg string) *Result {
	res.Status = status
	res.Error = &msg
	evt := log.Error()
	if status == StatusTimeout || status == StatusCancelled {
		evt = log.Warn()
	}
	evt.Str("matchId", res.MatchID).Str("status", string(status)).Msg("k8s runner: " + msg)
	return res
}

func jobName(matchID string) string       { return "match-" + matchID }
func configMapName(matchID string) string { return "match-config-" + matchID }

func matchLabels(spec *Spec) map[string]string {
	return map[string]string{
		"match-id":    spec.MatchID,
		"component":   "match-runner",
		"environment": spec.Environment,
	}
}
