// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the service should fail closed on
// identity/security boundaries: only trust X-User-ID/X-User-Role headers
// forwarded between cluster nodes (C10) when the request arrived over
// verified mTLS, rather than a bare header any caller could set.
//
// We also treat a node that has cluster mTLS credentials configured
// (GREPWISE_CLUSTER_TLS_CERT/_KEY/_ROOT_CA) as strict even outside
// production, so a mis-set environment cannot silently weaken a
// deployment that was otherwise set up to enforce mTLS between peers.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		hasClusterTLS := strings.TrimSpace(os.Getenv("GREPWISE_CLUSTER_TLS_CERT")) != "" &&
			strings.TrimSpace(os.Getenv("GREPWISE_CLUSTER_TLS_KEY")) != "" &&
			strings.TrimSpace(os.Getenv("GREPWISE_CLUSTER_TLS_ROOT_CA")) != ""
		strictIdentityModeValue = env == Production || hasClusterTLS
	})
	return strictIdentityModeValue
}
