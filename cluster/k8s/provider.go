package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/cluster"
	"github.com/keelhq/keel/id"
)

var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeaseName        = "keel-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=keel-worker"
	defaultAnnotationPrefix = "keel.dev/"
)

// Provider implements cluster.Store on Kubernetes: worker discovery via
// Pod annotations behind a label selector, and leader election via the
// coordination/v1 Lease API.
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider. The clientset and namespace
// are required; everything else has defaults overridable via options.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Worker registry (Pod annotations)
// ──────────────────────────────────────────────────

// RegisterWorker stores the worker record as annotations on its own Pod.
// The Pod is located by matching the worker's Hostname to the Pod name.
func (p *Provider) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	pod, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, w.Hostname, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("keel/k8s: pod %q not found: %w", w.Hostname, keel.ErrWorkerNotFound)
		}
		return fmt.Errorf("keel/k8s: register worker: %w", err)
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	p.annotate(pod, w)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("keel/k8s: register worker update pod: %w", err)
	}
	return nil
}

// DeregisterWorker strips the worker annotations from its Pod.
func (p *Provider) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	pod, err := p.podForWorker(ctx, workerID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return keel.ErrWorkerNotFound
	}

	for _, k := range annotationKeys {
		delete(pod.Annotations, p.annotationPrefix+k)
	}

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("keel/k8s: deregister worker update pod: %w", err)
	}
	return nil
}

// HeartbeatWorker refreshes the last-seen annotation on the worker's Pod.
func (p *Provider) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	pod, err := p.podForWorker(ctx, workerID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return keel.ErrWorkerNotFound
	}

	pod.Annotations[p.annotationPrefix+"last-seen"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("keel/k8s: heartbeat worker update pod: %w", err)
	}
	return nil
}

// ListWorkers scans annotated Pods behind the label selector.
func (p *Provider) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("keel/k8s: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(pods.Items))
	for i := range pods.Items {
		w, decodeErr := p.decodeWorker(&pods.Items[i])
		if decodeErr != nil {
			// Pod matched the selector but carries no worker record.
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen annotation is older
// than the threshold.
func (p *Provider) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	all, err := p.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range all {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// AcquireLeadership claims the leadership Lease. Returns true when this
// worker now holds it.
func (p *Provider) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	holder := workerID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      p.leaseName,
				Namespace: p.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &holder,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, createErr := p.client.CoordinationV1().Leases(p.namespace).Create(ctx, created, metav1.CreateOptions{}); createErr != nil {
			if apierrors.IsAlreadyExists(createErr) {
				// Lost the creation race.
				return false, nil
			}
			return false, fmt.Errorf("keel/k8s: create lease: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("keel/k8s: get lease: %w", err)
	}

	if heldByOther(lease, holder) {
		return false, nil
	}

	lease.Spec.HolderIdentity = &holder
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now

	if _, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("keel/k8s: acquire lease: %w", err)
	}
	return true, nil
}

// RenewLeadership extends the Lease, but only for the current holder.
func (p *Provider) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	holder := workerID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("keel/k8s: renew get lease: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != holder {
		return false, nil
	}

	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("keel/k8s: renew lease: %w", err)
	}
	return true, nil
}

// GetLeader resolves the Lease holder to its worker record, or nil when
// there is no unexpired holder.
func (p *Provider) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keel/k8s: get leader lease: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return nil, nil
	}
	if leaseExpired(lease) {
		return nil, nil
	}

	pod, err := p.podForWorker(ctx, *lease.Spec.HolderIdentity)
	if err != nil || pod == nil {
		// The holder's Pod is gone; report the identity alone.
		wID, parseErr := id.ParseWorkerID(*lease.Spec.HolderIdentity)
		if parseErr != nil {
			return nil, nil
		}
		return &cluster.Worker{ID: wID, IsLeader: true}, nil
	}

	w, err := p.decodeWorker(pod)
	if err != nil {
		return nil, nil
	}
	w.IsLeader = true
	return w, nil
}

// ──────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────

var annotationKeys = []string{
	"worker-id", "hostname", "concurrency", "state",
	"last-seen", "created-at", "is-leader", "queues", "leader-until",
}

// annotate writes the worker record onto the Pod's annotations.
func (p *Provider) annotate(pod *corev1.Pod, w *cluster.Worker) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	a[prefix+"worker-id"] = w.ID.String()
	a[prefix+"hostname"] = w.Hostname
	a[prefix+"concurrency"] = strconv.Itoa(w.Concurrency)
	a[prefix+"state"] = string(w.State)
	a[prefix+"last-seen"] = w.LastSeen.Format(time.RFC3339Nano)
	a[prefix+"created-at"] = w.CreatedAt.Format(time.RFC3339Nano)
	a[prefix+"is-leader"] = strconv.FormatBool(w.IsLeader)

	if len(w.Queues) > 0 {
		b, _ := json.Marshal(w.Queues) //nolint:errcheck // marshal of []string does not fail
		a[prefix+"queues"] = string(b)
	}
	if w.LeaderUntil != nil {
		a[prefix+"leader-until"] = w.LeaderUntil.Format(time.RFC3339Nano)
	}
}

// decodeWorker rebuilds a worker record from Pod annotations.
func (p *Provider) decodeWorker(pod *corev1.Pod) (*cluster.Worker, error) {
	prefix := p.annotationPrefix
	a := pod.Annotations

	rawID := a[prefix+"worker-id"]
	if rawID == "" {
		return nil, fmt.Errorf("keel/k8s: pod %q has no worker-id annotation", pod.Name)
	}

	wID, err := id.ParseWorkerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("keel/k8s: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(a[prefix+"concurrency"])              //nolint:errcheck // best-effort parse
	lastSeen, _ := time.Parse(time.RFC3339Nano, a[prefix+"last-seen"])   //nolint:errcheck // best-effort parse
	createdAt, _ := time.Parse(time.RFC3339Nano, a[prefix+"created-at"]) //nolint:errcheck // best-effort parse

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    a[prefix+"hostname"],
		Concurrency: concurrency,
		State:       cluster.WorkerState(a[prefix+"state"]),
		IsLeader:    a[prefix+"is-leader"] == "true",
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}

	if q := a[prefix+"queues"]; q != "" {
		var queues []string
		if uErr := json.Unmarshal([]byte(q), &queues); uErr == nil {
			w.Queues = queues
		}
	}
	if v := a[prefix+"leader-until"]; v != "" {
		if t, parseErr := time.Parse(time.RFC3339Nano, v); parseErr == nil {
			w.LeaderUntil = &t
		}
	}

	return w, nil
}

// podForWorker finds the Pod whose worker-id annotation matches, or nil.
func (p *Provider) podForWorker(ctx context.Context, workerID string) (*corev1.Pod, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("keel/k8s: find pod for worker: %w", err)
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Annotations[p.annotationPrefix+"worker-id"] == workerID {
			return pod, nil
		}
	}
	return nil, nil
}

// heldByOther reports whether the lease has an unexpired holder that is
// not myID.
func heldByOther(lease *coordinationv1.Lease, myID string) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false
	}
	if *lease.Spec.HolderIdentity == myID {
		return false
	}
	return !leaseExpired(lease)
}

// leaseExpired reports whether renew time plus duration is in the past.
// A lease missing either field counts as expired.
func leaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return time.Now().UTC().After(lease.Spec.RenewTime.Time.Add(dur))
}
