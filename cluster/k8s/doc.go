// Package k8s implements cluster.Store on Kubernetes primitives, for
// deployments where workers are pods and no shared database is wanted
// for membership.
//
// Worker records live as annotations on the worker's own Pod, discovered
// through a label selector. Leader election uses the coordination/v1
// Lease API.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	store := k8s.New(client, "jobs")
//	// use store as a cluster.Store
package k8s
